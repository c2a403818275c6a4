package reactor

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"ocm.software/open-component-model/bindings/go/dag"

	xerrors "StepScope/internal/errors"
)

const milestonePrefix = "milestone:"

// CyclicDependencyError reports tasks that transitively require themselves.
type CyclicDependencyError struct {
	// Cycle lists the nodes of the cycle, first and last being the same.
	Cycle []string
	coded *xerrors.Error
}

func newCyclicDependencyError(cycle []string) *CyclicDependencyError {
	return &CyclicDependencyError{
		Cycle: cycle,
		coded: xerrors.New(xerrors.CodeCyclicDependency, "cycle: "+strings.Join(cycle, " -> ")),
	}
}

func (e *CyclicDependencyError) Error() string { return e.coded.Error() }

// Unwrap exposes the coded error.
func (e *CyclicDependencyError) Unwrap() error { return e.coded }

// Graph is a validated, acyclic set of tasks plus one node per milestone.
// Milestone M depends on every task attaining M and on milestone M-1; a task
// depends on its NotBefore milestone and on the tasks it requires.
type Graph struct {
	dag      *dag.DirectedAcyclicGraph[string]
	tasks    map[string]*Task
	next     map[string][]string
	indegree map[string]int
	order    []string
}

func milestoneID(m Milestone) string { return milestonePrefix + m.String() }

// NewGraph validates tasks and orders them.
func NewGraph(tasks []Task) (*Graph, error) {
	g := &Graph{
		dag:   dag.NewDirectedAcyclicGraph[string](),
		tasks: make(map[string]*Task, len(tasks)),
	}

	for _, m := range Milestones() {
		if err := g.dag.AddVertex(milestoneID(m), map[string]any{"milestone": m}); err != nil {
			return nil, err
		}
		if m > MilestoneStarted {
			if err := g.addEdge(milestoneID(m-1), milestoneID(m)); err != nil {
				return nil, err
			}
		}
	}

	for i := range tasks {
		t := tasks[i]
		switch {
		case t.Name == "":
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("task #%d has no name", i+1))
		case strings.HasPrefix(t.Name, milestonePrefix):
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "task name "+t.Name+" is reserved")
		case !t.Attains.Valid():
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "task "+t.Name+" attains no milestone")
		}
		if _, dup := g.tasks[t.Name]; dup {
			return nil, xerrors.New(xerrors.CodeConflict, "duplicate task "+t.Name)
		}
		if t.NotBefore == MilestoneNone {
			t.NotBefore = MilestoneStarted
		}
		if !t.NotBefore.Valid() {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "task "+t.Name+" has an invalid start milestone")
		}
		t.Requires = slices.Clone(t.Requires)
		g.tasks[t.Name] = &t
		if err := g.dag.AddVertex(t.Name, map[string]any{"task": &t}); err != nil {
			return nil, err
		}
	}

	for _, name := range g.taskNames() {
		t := g.tasks[name]
		for _, req := range t.Requires {
			if _, ok := g.tasks[req]; !ok {
				return nil, xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("task %s requires unknown task %s", t.Name, req),
					xerrors.WithMetadata("task", t.Name))
			}
			if err := g.addEdge(req, t.Name); err != nil {
				return nil, err
			}
		}
		if err := g.addEdge(milestoneID(t.NotBefore), t.Name); err != nil {
			return nil, err
		}
		if err := g.addEdge(t.Name, milestoneID(t.Attains)); err != nil {
			return nil, err
		}
	}

	g.index()
	if err := g.sort(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) addEdge(from, to string) error {
	if from == to {
		return newCyclicDependencyError([]string{from, to})
	}
	err := g.dag.AddEdge(from, to)
	var cycle *dag.CycleError
	if errors.As(err, &cycle) {
		return newCyclicDependencyError(cycle.Cycle)
	}
	return err
}

func (g *Graph) taskNames() []string {
	names := make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// index snapshots successors and in-degrees so scheduling does not touch the
// concurrent maps of the underlying graph.
func (g *Graph) index() {
	g.indegree = g.dag.InDegreeToMap()
	g.next = make(map[string][]string, len(g.indegree))
	for _, id := range g.dag.GetVertices() {
		v, _ := g.dag.GetVertex(id)
		var succ []string
		v.Edges.Range(func(key, _ any) bool {
			succ = append(succ, key.(string))
			return true
		})
		slices.Sort(succ)
		g.next[id] = succ
	}
}

// sort orders nodes layer by layer, names breaking ties. Nodes left over
// lie on or behind a cycle.
func (g *Graph) sort() error {
	indegree := make(map[string]int, len(g.indegree))
	var layer []string
	for id, n := range g.indegree {
		indegree[id] = n
		if n == 0 {
			layer = append(layer, id)
		}
	}
	slices.Sort(layer)

	order := make([]string, 0, len(indegree))
	for len(layer) > 0 {
		order = append(order, layer...)
		var following []string
		for _, id := range layer {
			for _, succ := range g.next[id] {
				indegree[succ]--
				if indegree[succ] == 0 {
					following = append(following, succ)
				}
			}
		}
		slices.Sort(following)
		layer = following
	}

	if len(order) < len(indegree) {
		remaining := make(map[string]bool)
		for id, n := range indegree {
			if n > 0 {
				remaining[id] = true
			}
		}
		return newCyclicDependencyError(g.findCycle(remaining))
	}
	g.order = order
	return nil
}

func (g *Graph) findCycle(remaining map[string]bool) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(remaining))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, succ := range g.next[id] {
			if !remaining[succ] {
				continue
			}
			switch color[succ] {
			case grey:
				start := slices.Index(stack, succ)
				cycle = append(slices.Clone(stack[start:]), succ)
				return true
			case white:
				if visit(succ) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return ids
}

// Tasks returns the tasks in a deterministic dependency order.
func (g *Graph) Tasks() []Task {
	out := make([]Task, 0, len(g.tasks))
	for _, id := range g.order {
		if t, ok := g.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Task returns the task with the given name.
func (g *Graph) Task(name string) (Task, bool) {
	t, ok := g.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

func (g *Graph) milestoneOf(id string) (Milestone, bool) {
	if _, isTask := g.tasks[id]; isTask {
		return MilestoneNone, false
	}
	v, ok := g.dag.GetVertex(id)
	if !ok {
		return MilestoneNone, false
	}
	m, ok := v.Attributes.Load("milestone")
	if !ok {
		return MilestoneNone, false
	}
	return m.(Milestone), true
}
