package preparer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

const base64LineLength = 76

// MIMEPreparer renders a multipart/mixed message: a plain-text body part
// plus the PDF attachment as a base64 part. The attachment must already be
// resolved to inline bytes by the boundary layer.
type MIMEPreparer struct{}

// NewMIMEPreparer creates the multipart renderer step.
func NewMIMEPreparer() *MIMEPreparer {
	return &MIMEPreparer{}
}

// Prepare builds the raw MIME message into the draft.
func (p *MIMEPreparer) Prepare(_ context.Context, draft *Draft) error {
	msg := draft.Message
	if strings.TrimSpace(draft.From) == "" {
		return fmt.Errorf("sender address is required")
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	if len(msg.Attachment.Inline) == 0 {
		return fmt.Errorf("attachment content is not resolved")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	text, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"7bit"},
	})
	if err != nil {
		return err
	}
	if _, err := text.Write([]byte(msg.BodyText)); err != nil {
		return err
	}

	pdf, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("application/pdf; name=%q", msg.Filename())},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", msg.Filename())},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}
	if err := writeBase64(pdf, msg.Attachment.Inline); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", draft.From)
	fmt.Fprintf(&out, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&out, "Subject: %s\r\n", msg.Subject)
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/mixed; boundary=%q\r\n", w.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())

	draft.Raw = out.Bytes()
	return nil
}

// writeBase64 encodes content in RFC 2045 wrapped lines.
func writeBase64(w io.Writer, content []byte) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 0 {
		n := base64LineLength
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n])); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
