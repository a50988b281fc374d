package push

import "encoding/json"

// MessageType tags push messages.
type MessageType string

const (
	MessageSubscribed   MessageType = "subscribed"
	MessageUnsubscribed MessageType = "unsubscribed"
	MessageChange       MessageType = "change"
	MessageError        MessageType = "error"
	MessagePong         MessageType = "pong"
)

// Message is the JSON envelope sent to sessions.
type Message struct {
	Type     MessageType `json:"type"`
	Job      string      `json:"job,omitempty"`
	Resource string      `json:"resource,omitempty"`
	Digest   string      `json:"digest,omitempty"`
	Error    string      `json:"error,omitempty"`
	Ref      string      `json:"ref,omitempty"`
}

// Encode marshals the message. Message has no fields that can fail to encode.
func (m Message) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
