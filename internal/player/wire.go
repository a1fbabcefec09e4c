package player

import "encoding/json"

// Request is an outbound engine directive in wire form: a command array with
// the verb first, correlated by request_id.
type Request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// message is the union of everything the engine writes back: replies carry
// request_id and error, events carry event and name.
type message struct {
	RequestID int64           `json:"request_id,omitempty"`
	Err       string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (m message) isEvent() bool { return m.Event != "" }

// Response is a reply to a previously sent Request.
type Response struct {
	RequestID int64
	Err       string
	Data      json.RawMessage
}

// OK reports whether the engine accepted the command.
func (r Response) OK() bool {
	return r.Err == "" || r.Err == "success"
}

// Event is an unsolicited engine notification, typically a property change.
type Event struct {
	Event string
	Name  string
	Data  json.RawMessage
}

// EventPropertyChange is the only event kind the sync core consumes.
const EventPropertyChange = "property-change"

// Watched engine property names.
const (
	PropertyTimePos = "time-pos"
	PropertyPause   = "pause"
	PropertySpeed   = "speed"
	PropertyVolume  = "volume"
)

// WatchedProperties lists the properties the observer subscribes to at
// session start.
func WatchedProperties() []string {
	return []string{PropertyTimePos, PropertyPause, PropertySpeed, PropertyVolume}
}
