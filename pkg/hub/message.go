// Package hub fans websocket messages out to every connected dashboard using
// a single owner goroutine per hub.
package hub

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded text message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (JPEG or PNG images)
	BinaryMessage
)

// Message is one broadcast unit
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
