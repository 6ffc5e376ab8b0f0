package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testResolver(maxSize int64) *Resolver {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewResolver(maxSize, 5*time.Second, log)
}

func TestDecodeValidBase64(t *testing.T) {
	t.Parallel()

	content := []byte("%PDF-1.4 sample")
	data, err := testResolver(1024).Decode(base64.StdEncoding.EncodeToString(content))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("decoded %q, want %q", data, content)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := testResolver(1024).Decode("!!not-base64!!"); !errors.Is(err, ErrInvalidBase64) {
		t.Fatalf("expected ErrInvalidBase64, got %v", err)
	}
}

func TestDecodeEnforcesSizeCeiling(t *testing.T) {
	t.Parallel()

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("a"), 2048))
	if _, err := testResolver(1024).Decode(big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	if _, err := testResolver(1024).Decode(""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestFetchStreamsFromURL(t *testing.T) {
	t.Parallel()

	content := []byte("%PDF-1.4 remote document")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	data, err := testResolver(1024).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("fetched %q, want %q", data, content)
	}
}

func TestFetchEnforcesSizeCeiling(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer srv.Close()

	if _, err := testResolver(1024).Fetch(context.Background(), srv.URL); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := testResolver(1024).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
