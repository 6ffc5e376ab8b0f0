package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/mailpool/relay/app/account"
)

// SESTransport sends raw MIME email via AWS SES, building one client per
// account from its access key pair. Clients are cached for the process
// lifetime.
type SESTransport struct {
	region string
	log    *logrus.Logger

	mu      sync.Mutex
	clients map[string]*sesv2.Client
}

// NewSESTransport builds an SES transport for the given region.
func NewSESTransport(region string, log *logrus.Logger) *SESTransport {
	return &SESTransport{
		region:  region,
		log:     log,
		clients: make(map[string]*sesv2.Client),
	}
}

// Send delivers raw MIME content via SES as the given account.
func (t *SESTransport) Send(ctx context.Context, acct *account.Account, recipient string, raw []byte) (string, error) {
	client, err := t.client(ctx, acct)
	if err != nil {
		return "", err
	}

	out, err := client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(acct.From()),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", wrapSESError(err)
	}

	id := aws.ToString(out.MessageId)
	t.log.WithFields(logrus.Fields{
		"account":   acct.Label,
		"recipient": recipient,
		"id":        id,
	}).Debug("ses message accepted")
	return id, nil
}

func (t *SESTransport) client(ctx context.Context, acct *account.Account) (*sesv2.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[acct.Identity]; ok {
		return c, nil
	}

	creds := credentials.NewStaticCredentialsProvider(acct.Identity, acct.Secret, "")
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(t.region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", acct.Label, err)
	}

	c := sesv2.NewFromConfig(cfg)
	t.clients[acct.Identity] = c
	return c, nil
}

// wrapSESError flattens SES API faults into a structured Error carrying the
// service's fault code and message text.
func wrapSESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &Error{Message: fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())}
	}
	return err
}
