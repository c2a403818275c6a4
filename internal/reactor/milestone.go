package reactor

// Milestone is a named checkpoint of initialization. Milestones are totally
// ordered; attaining one implies every earlier one was attained.
type Milestone int

const (
	// MilestoneNone is the zero value: nothing attained yet.
	MilestoneNone Milestone = iota
	MilestoneStarted
	MilestonePluginsListed
	MilestonePluginsPrepared
	MilestonePluginsStarted
	MilestoneExtensionsAugmented
	MilestoneSystemConfigLoaded
	MilestoneSystemConfigAdapted
	MilestoneJobsLoaded
	MilestoneJobConfigAdapted
	MilestoneCompleted
)

var milestoneNames = [...]string{
	MilestoneNone:                "Not started",
	MilestoneStarted:             "Started initialization",
	MilestonePluginsListed:       "Listed all plugins",
	MilestonePluginsPrepared:     "Prepared all plugins",
	MilestonePluginsStarted:      "Started all plugins",
	MilestoneExtensionsAugmented: "Augmented all extensions",
	MilestoneSystemConfigLoaded:  "System config loaded",
	MilestoneSystemConfigAdapted: "System config adapted",
	MilestoneJobsLoaded:          "Loaded all jobs",
	MilestoneJobConfigAdapted:    "Configuration for all jobs updated",
	MilestoneCompleted:           "Completed initialization",
}

// Milestones returns every milestone from MilestoneStarted to
// MilestoneCompleted in order.
func Milestones() []Milestone {
	out := make([]Milestone, 0, int(MilestoneCompleted))
	for m := MilestoneStarted; m <= MilestoneCompleted; m++ {
		out = append(out, m)
	}
	return out
}

// Valid reports whether m is one of the defined milestones.
func (m Milestone) Valid() bool {
	return m >= MilestoneStarted && m <= MilestoneCompleted
}

// String returns the display name.
func (m Milestone) String() string {
	if m < MilestoneNone || m > MilestoneCompleted {
		return "Unknown milestone"
	}
	return milestoneNames[m]
}

// MarshalText renders the display name.
func (m Milestone) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
