package delegate

// Entry is the printable form of a QuasiDescriptor.
type Entry struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Document converts l into plain maps suitable for YAML or JSON output.
func (l Listing) Document() map[string]map[Bucket][]Entry {
	doc := make(map[string]map[Bucket][]Entry, len(l))
	for owner, buckets := range l {
		doc[owner] = make(map[Bucket][]Entry, len(buckets))
		for bucket, entries := range buckets {
			out := make([]Entry, 0, len(entries))
			for _, qd := range entries {
				e := Entry{Name: qd.Component.Name, Type: qd.Component.Type}
				if qd.Parent != nil {
					e.Parent = qd.Parent.Name
				}
				out = append(out, e)
			}
			doc[owner][bucket] = out
		}
	}
	return doc
}
