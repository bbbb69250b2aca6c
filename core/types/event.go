package types

// Event represents a typed event emitted during a registry state transition.
// Attributes hold the rendered field values so downstream sinks never need to
// decode domain types.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
