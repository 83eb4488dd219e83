package mail

import "time"

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	To        []string
	Date      time.Time
	UID       uint32
}

// ParsedMessage holds the content of a message needed to build an issue
// payload: envelope, bodies, attachment metadata, and the ordered thread
// identity derived from its reference headers.
type ParsedMessage struct {
	Envelope    Envelope
	TextBody    string
	HTMLBody    string
	Attachments []Attachment

	// ThreadIDs is the conversation's message identities in order,
	// root first, ending with this message.
	ThreadIDs []string
}

// Attachment holds metadata about a message attachment.
type Attachment struct {
	Filename string
	Size     int64
	MIMEType string
}
