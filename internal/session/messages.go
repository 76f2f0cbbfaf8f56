package session

import "encoding/json"

// Outbound text message types.
const (
	TypeVAD           = "vad"
	TypeTranscription = "transcription"
	TypeChatResponse  = "chat_response"
)

// VAD status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Message is the JSON envelope of every outbound text message. Exactly one
// of Status and Text is set, depending on Type.
type Message struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Text   string `json:"text,omitempty"`
}

func vadMessage(status string) Message {
	return Message{Type: TypeVAD, Status: status}
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}
