package messaging

import "time"

const (
	MaxSubjectLength = 200
	MaxBodyLength    = 16 << 10
)

// Message is a note one passport left in another's inbox.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SendInput is a message as submitted by the sender's owner.
type SendInput struct {
	From    string
	To      string
	Subject string
	Body    string
}
