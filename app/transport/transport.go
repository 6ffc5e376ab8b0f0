package transport

import (
	"context"
	"fmt"

	"github.com/mailpool/relay/app/account"
)

// Transport delivers a rendered message through an external mail service
// using one account's credentials. It returns the provider-assigned message
// identifier on success.
type Transport interface {
	Send(ctx context.Context, acct *account.Account, recipient string, raw []byte) (string, error)
}

// Error is a structured delivery failure: an SMTP-style status code and the
// provider's free-text message. The dispatch classifier works off both.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("transport: %s", e.Message)
	}
	return fmt.Sprintf("transport: %d %s", e.Code, e.Message)
}
