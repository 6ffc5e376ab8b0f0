package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/mailpool/relay/app/account"
)

// NoopTransport pretends to send mail. Used for local runs and e2e tests.
type NoopTransport struct{}

// NewNoopTransport constructs a no-op transport.
func NewNoopTransport() *NoopTransport {
	return &NoopTransport{}
}

// Send returns a generated identifier without sending.
func (t *NoopTransport) Send(_ context.Context, _ *account.Account, _ string, _ []byte) (string, error) {
	return uuid.NewString(), nil
}
