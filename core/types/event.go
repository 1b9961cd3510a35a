package types

// Event is the wire form of a committed ledger state change: a dotted type
// name plus flat string attributes. Keeping attributes as strings lets the
// journal and the log sinks store entries without further conversion.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// CloneAttributes returns a defensive copy of the attribute map, or nil when
// the event carries none.
func (e *Event) CloneAttributes() map[string]string {
	if e == nil || len(e.Attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out[k] = v
	}
	return out
}
