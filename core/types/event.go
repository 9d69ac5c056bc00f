package types

// Event is the wire representation of a typed state-change event, flattened to
// string attributes for downstream consumers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
