package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mailpool/relay/app/account"
)

// smtpConn is one account's pooled connection. smtp.Client serializes
// individual commands but not whole transactions, so mu is held from MAIL
// FROM through the end of DATA.
type smtpConn struct {
	mu sync.Mutex
	c  *smtp.Client
}

// SMTPTransport sends mail over SMTP with per-account PLAIN authentication.
// Connections are pooled per identity: dialed lazily on first use, reused
// across sends, and dropped on any send error so the next attempt redials.
type SMTPTransport struct {
	host        string
	port        int
	dialTimeout time.Duration
	log         *logrus.Logger

	mu    sync.Mutex
	conns map[string]*smtpConn
}

// NewSMTPTransport builds an SMTP transport for the given server.
func NewSMTPTransport(host string, port int, log *logrus.Logger) *SMTPTransport {
	return &SMTPTransport{
		host:        host,
		port:        port,
		dialTimeout: 15 * time.Second,
		log:         log,
		conns:       make(map[string]*smtpConn),
	}
}

// Send delivers raw MIME content as the given account. Concurrent sends
// through the same account queue on its connection, one transaction at a
// time. SMTP has no native message identifier in the success path we can
// rely on across servers, so a locally generated UUID is returned as the
// receipt id.
func (t *SMTPTransport) Send(ctx context.Context, acct *account.Account, recipient string, raw []byte) (string, error) {
	pc := t.conn(acct.Identity)
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.c == nil {
		c, err := t.dial(ctx, acct)
		if err != nil {
			return "", err
		}
		pc.c = c
	}

	if err := t.submit(pc.c, acct, recipient, raw); err != nil {
		_ = pc.c.Close()
		pc.c = nil
		return "", wrapSMTPError(err)
	}

	id := uuid.NewString()
	t.log.WithFields(logrus.Fields{
		"account":   acct.Label,
		"recipient": recipient,
		"id":        id,
	}).Debug("smtp message accepted")
	return id, nil
}

func (t *SMTPTransport) submit(c *smtp.Client, acct *account.Account, recipient string, raw []byte) error {
	if err := c.Mail(acct.From()); err != nil {
		return err
	}
	if err := c.Rcpt(recipient); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// conn returns the connection slot for an identity, creating an empty one
// on first use. Dialing happens under the slot's own lock.
func (t *SMTPTransport) conn(identity string) *smtpConn {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.conns[identity]
	if !ok {
		pc = &smtpConn{}
		t.conns[identity] = pc
	}
	return pc
}

// dial connects and authenticates a fresh client for the account.
func (t *SMTPTransport) dial(ctx context.Context, acct *account.Account) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
	dialer := &net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		_ = conn.Close()
		return nil, wrapSMTPError(err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			_ = c.Close()
			return nil, wrapSMTPError(err)
		}
	}

	if ok, _ := c.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", acct.Identity, acct.Secret, t.host)
		if err := c.Auth(auth); err != nil {
			_ = c.Close()
			return nil, wrapSMTPError(err)
		}
	}

	return c, nil
}

// wrapSMTPError converts textproto status replies into a structured Error so
// the classifier can see the SMTP code. Network errors pass through
// unchanged; the classifier recognizes them directly.
func wrapSMTPError(err error) error {
	var te *textproto.Error
	if errors.As(err, &te) {
		return &Error{Code: te.Code, Message: te.Msg}
	}
	return err
}
