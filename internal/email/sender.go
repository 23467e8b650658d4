package email

import (
	"context"
	"errors"
)

// ErrNoMessage is returned by senders given an unassembled message.
var ErrNoMessage = errors.New("email: message is not assembled")

// Sender dispatches an assembled certificate email. Implementations submit
// Message.MIME as is and never rebuild it.
type Sender interface {
	// Send submits the message exactly once. It does not retry.
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}

// Message is an assembled email. It is not modified after Assemble returns.
type Message struct {
	To       string
	From     string
	ReplyTo  string
	Subject  string
	TextBody string

	Attachment Attachment

	// MIME is the complete multipart/mixed document.
	MIME []byte
	// Raw is MIME in base64url, the form the Gmail API accepts.
	Raw string
}

// Attachment is the certificate image carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Receipt identifies a dispatched message.
type Receipt struct {
	Provider string
	// MessageID is the provider's id, empty when the provider assigns none.
	MessageID string
	ThreadID  string
}
