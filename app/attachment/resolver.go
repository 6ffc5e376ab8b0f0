package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrTooLarge      = errors.New("attachment exceeds the maximum allowed size")
	ErrInvalidBase64 = errors.New("pdf content is not valid base64")
	ErrEmpty         = errors.New("attachment content is empty")
)

// Resolver turns an attachment source (base64 content or remote URL) into
// raw bytes, enforcing the configured size ceiling at this boundary so the
// dispatch engine never sees oversized payloads.
type Resolver struct {
	client  *http.Client
	maxSize int64
	log     *logrus.Logger
}

// NewResolver builds a resolver with the given size ceiling in bytes.
func NewResolver(maxSize int64, fetchTimeout time.Duration, log *logrus.Logger) *Resolver {
	return &Resolver{
		client:  &http.Client{Timeout: fetchTimeout},
		maxSize: maxSize,
		log:     log,
	}
}

// Decode converts base64 PDF content into bytes.
func (r *Resolver) Decode(content string) ([]byte, error) {
	if content == "" {
		return nil, ErrEmpty
	}
	if int64(base64.StdEncoding.DecodedLen(len(content))) > r.maxSize {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, ErrInvalidBase64
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// Fetch streams an attachment from a URL, failing once the size ceiling is
// crossed rather than buffering the whole response first.
func (r *Resolver) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > r.maxSize {
		return nil, ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}
	if int64(len(data)) > r.maxSize {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	r.log.WithFields(logrus.Fields{"url": url, "bytes": len(data)}).Debug("attachment fetched")
	return data, nil
}
