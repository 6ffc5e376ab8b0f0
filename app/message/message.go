package message

import (
	"errors"
	"net/mail"
)

var (
	ErrInvalidRecipient  = errors.New("recipient must be a valid email address")
	ErrMissingSubject    = errors.New("subject is required")
	ErrMissingBody       = errors.New("body is required")
	ErrAmbiguousSource   = errors.New("exactly one of inline content or attachment URL must be set")
	ErrMissingAttachment = errors.New("an attachment is required")
)

// Attachment carries the PDF payload for a message, supplied either inline
// or as a fetchable location. Exactly one of the two must be present.
type Attachment struct {
	Inline    []byte
	RemoteURL string
	Filename  string
}

// Outgoing is a single message to relay. Immutable once validated.
type Outgoing struct {
	Recipient  string
	Subject    string
	BodyText   string
	Attachment Attachment
}

// Validate checks the recipient syntax, required fields, and the
// exactly-one-of attachment invariant.
func (m *Outgoing) Validate() error {
	if _, err := mail.ParseAddress(m.Recipient); err != nil {
		return ErrInvalidRecipient
	}
	if m.Subject == "" {
		return ErrMissingSubject
	}
	if m.BodyText == "" {
		return ErrMissingBody
	}
	hasInline := len(m.Attachment.Inline) > 0
	hasURL := m.Attachment.RemoteURL != ""
	if !hasInline && !hasURL {
		return ErrMissingAttachment
	}
	if hasInline && hasURL {
		return ErrAmbiguousSource
	}
	return nil
}

// Filename returns the attachment filename, defaulting to document.pdf.
func (m *Outgoing) Filename() string {
	if m.Attachment.Filename != "" {
		return m.Attachment.Filename
	}
	return "document.pdf"
}
