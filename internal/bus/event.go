// Package bus implements the ordered, at-least-once message bus that binds
// the five pipeline services: a durable Redis Streams backend for
// production, and an in-process FIFO backend for tests, behind one
// interface (spec.md §4.1).
package bus

import "encoding/json"

// Event is the wire shape carried on every stream: {type, payload}.
type Event struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Dumps serializes the event to its canonical JSON encoding.
func (e Event) Dumps() ([]byte, error) {
	return json.Marshal(e)
}

// FromBytes parses an Event from its JSON encoding. Round-trips
// byte-identically through Dumps for any JSON-serializable payload.
func FromBytes(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	return e, nil
}
