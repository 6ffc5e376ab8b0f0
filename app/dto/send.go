package dto

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrMissingFields       = errors.New("to, subject, and body are required")
	ErrInvalidRecipient    = errors.New("to must be a valid email address")
	ErrMissingAttachment   = errors.New("either pdf or attachmentUrl is required")
	ErrAmbiguousAttachment = errors.New("pdf and attachmentUrl are mutually exclusive")
	ErrEmptyBatch          = errors.New("messages must contain at least one entry")
)

// SendRequest is the single-message request body. Exactly one of PDF
// (base64 content) or AttachmentURL must be set. RequestID is optional and
// enables the duplicate-send guard.
type SendRequest struct {
	RequestID     string `json:"request_id,omitempty"`
	To            string `json:"to"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	PDF           string `json:"pdf,omitempty"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
	Filename      string `json:"filename,omitempty"`
}

// BatchRequest is the batch request body.
type BatchRequest struct {
	Messages []SendRequest `json:"messages"`
}

// FromEchoContext binds and normalizes a single-send request from Echo.
func FromEchoContext(ctx echo.Context) (SendRequest, error) {
	var req SendRequest
	if err := ctx.Bind(&req); err != nil {
		return SendRequest{}, err
	}
	req.normalize()
	return req, nil
}

// BatchFromEchoContext binds and normalizes a batch request from Echo.
func BatchFromEchoContext(ctx echo.Context) (BatchRequest, error) {
	var req BatchRequest
	if err := ctx.Bind(&req); err != nil {
		return BatchRequest{}, err
	}
	for i := range req.Messages {
		req.Messages[i].normalize()
	}
	return req, nil
}

// Validate checks required fields, recipient syntax, and the
// exactly-one-of attachment rule.
func (r *SendRequest) Validate() error {
	if r.To == "" || r.Subject == "" || r.Body == "" {
		return ErrMissingFields
	}
	if _, err := mail.ParseAddress(r.To); err != nil {
		return ErrInvalidRecipient
	}
	hasPDF := r.PDF != ""
	hasURL := r.AttachmentURL != ""
	if !hasPDF && !hasURL {
		return ErrMissingAttachment
	}
	if hasPDF && hasURL {
		return ErrAmbiguousAttachment
	}
	return nil
}

// Validate rejects the whole batch when any message is malformed, naming
// the offending index; nothing reaches dispatch partially validated.
func (b *BatchRequest) Validate() error {
	if len(b.Messages) == 0 {
		return ErrEmptyBatch
	}
	for i := range b.Messages {
		if err := b.Messages[i].Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// normalize trims whitespace from addressing fields; body and pdf content
// are kept verbatim.
func (r *SendRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.To = strings.TrimSpace(r.To)
	r.Subject = strings.TrimSpace(r.Subject)
	r.AttachmentURL = strings.TrimSpace(r.AttachmentURL)
	r.Filename = strings.TrimSpace(r.Filename)
}
