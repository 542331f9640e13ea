package types

// Event is a typed record emitted by a state transition. Attributes carry
// string-encoded payload fields so sinks can persist or index them without
// knowing the concrete payload type.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
