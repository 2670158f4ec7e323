package types

// Event represents a typed event emitted during state transitions. Attribute
// values are rendered strings: amounts in base units, addresses as checksummed
// hex.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
