package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mailpool/relay/app/account"
	"github.com/mailpool/relay/app/message"
	"github.com/mailpool/relay/app/transport"
)

type attemptRecord struct {
	Label     string
	Recipient string
}

// fakeTransport drives delivery outcomes from a per-(account,recipient)
// attempt-numbered function and records every attempt.
type fakeTransport struct {
	mu       sync.Mutex
	counts   map[string]int
	attempts []attemptRecord
	fn       func(label, recipient string, attempt int) error
}

func newFakeTransport(fn func(label, recipient string, attempt int) error) *fakeTransport {
	return &fakeTransport{counts: make(map[string]int), fn: fn}
}

func (t *fakeTransport) Send(_ context.Context, acct *account.Account, recipient string, _ []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := acct.Label + "|" + recipient
	t.counts[key]++
	t.attempts = append(t.attempts, attemptRecord{Label: acct.Label, Recipient: recipient})
	if t.fn != nil {
		if err := t.fn(acct.Label, recipient, t.counts[key]); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("msg-%s-%d", acct.Label, len(t.attempts)), nil
}

func (t *fakeTransport) attemptsFor(label string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.attempts {
		if a.Label == label {
			n++
		}
	}
	return n
}

type rawRenderer struct{}

func (rawRenderer) Render(_ context.Context, from string, msg *message.Outgoing) ([]byte, error) {
	return []byte("From: " + from + "\r\nTo: " + msg.Recipient + "\r\n\r\n" + msg.BodyText), nil
}

func quotaErr() error {
	return &transport.Error{Code: 550, Message: "5.4.5 Daily user sending quota exceeded"}
}

func rejectErr() error {
	return &transport.Error{Code: 550, Message: "5.1.1 mailbox does not exist"}
}

func tempErr() error {
	return &transport.Error{Code: 451, Message: "4.3.0 temporary server error"}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestEngine(t *testing.T, labels []string, tr transport.Transport, limit int) (*Engine, *account.Registry) {
	t.Helper()
	creds := make([]account.Credentials, len(labels))
	for i, l := range labels {
		creds[i] = account.Credentials{Label: l, Identity: l + "@pool.example.com", Secret: "pw"}
	}
	reg, err := account.NewRegistry(creds)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewEngine(reg, tr, rawRenderer{}, limit, testLogger()), reg
}

func testMsg(recipient string) *message.Outgoing {
	return &message.Outgoing{
		Recipient:  recipient,
		Subject:    "invoice",
		BodyText:   "see attached",
		Attachment: message.Attachment{Inline: []byte("%PDF-1.4"), Filename: "invoice.pdf"},
	}
}

func TestSendOneUsesFirstHealthyAccount(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(nil)
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 4)

	res, err := engine.SendOne(context.Background(), testMsg("u@example.com"))
	if err != nil {
		t.Fatalf("SendOne: %v", err)
	}
	if res.Account != "A" {
		t.Fatalf("delivered via %s, want A", res.Account)
	}
	if res.MessageID == "" {
		t.Fatal("missing provider message id")
	}
	if tr.attemptsFor("B") != 0 {
		t.Fatal("B should not be attempted when A succeeds")
	}
}

func TestSendOneFailsOverOnDailyLimit(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(label, _ string, _ int) error {
		if label == "A" {
			return quotaErr()
		}
		return nil
	})
	engine, reg := newTestEngine(t, []string{"A", "B"}, tr, 4)

	res, err := engine.SendOne(context.Background(), testMsg("u@example.com"))
	if err != nil {
		t.Fatalf("SendOne: %v", err)
	}
	if res.Account != "B" {
		t.Fatalf("delivered via %s, want B", res.Account)
	}
	if !reg.Accounts()[0].QuotaExceeded() {
		t.Fatal("A should be quota-disabled")
	}
	if tr.attemptsFor("A") != 1 {
		t.Fatalf("quota failure must not be retried on the same account, got %d attempts", tr.attemptsFor("A"))
	}
}

func TestSendOneRecipientRejectedStopsImmediately(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(label, _ string, _ int) error {
		if label == "A" {
			return rejectErr()
		}
		return nil
	})
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 4)

	_, err := engine.SendOne(context.Background(), testMsg("gone@example.com"))
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if derr.Class.Reason != ReasonRecipientRejected {
		t.Fatalf("reason = %s, want %s", derr.Class.Reason, ReasonRecipientRejected)
	}
	if tr.attemptsFor("A") != 1 {
		t.Fatalf("rejected recipient must not be retried, got %d attempts", tr.attemptsFor("A"))
	}
	if tr.attemptsFor("B") != 0 {
		t.Fatal("rejected recipient must not switch accounts")
	}
}

func TestSendOneRetriesTransientOnceOnSameAccount(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(label, _ string, attempt int) error {
		if label == "A" && attempt == 1 {
			return tempErr()
		}
		return nil
	})
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 4)

	res, err := engine.SendOne(context.Background(), testMsg("u@example.com"))
	if err != nil {
		t.Fatalf("SendOne: %v", err)
	}
	if res.Account != "A" {
		t.Fatalf("delivered via %s, want A", res.Account)
	}
	if tr.attemptsFor("A") != 2 {
		t.Fatalf("expected 2 attempts on A, got %d", tr.attemptsFor("A"))
	}
	if tr.attemptsFor("B") != 0 {
		t.Fatal("transient failure must not switch accounts")
	}
}

func TestSendOneTransientRetryExhaustedIsTerminal(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(label, _ string, _ int) error {
		if label == "A" {
			return tempErr()
		}
		return nil
	})
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 4)

	_, err := engine.SendOne(context.Background(), testMsg("u@example.com"))
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if derr.Class.Reason != ReasonTemporaryFailure {
		t.Fatalf("reason = %s", derr.Class.Reason)
	}
	if tr.attemptsFor("A") != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", tr.attemptsFor("A"))
	}
	if tr.attemptsFor("B") != 0 {
		t.Fatal("no account switch for non-quota failures")
	}
}

func TestSendOnePoolExhausted(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(_, _ string, _ int) error { return quotaErr() })
	engine, reg := newTestEngine(t, []string{"A", "B"}, tr, 4)

	_, err := engine.SendOne(context.Background(), testMsg("u@example.com"))
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.Class.Reason != ReasonDailyLimit {
		t.Fatalf("terminal failure should carry the last classification, got %v", err)
	}
	for _, a := range reg.Accounts() {
		if !a.QuotaExceeded() {
			t.Fatalf("account %s should be disabled", a.Label)
		}
	}

	// Sticky: a second send finds nothing without touching the transport.
	before := len(tr.attempts)
	if _, err := engine.SendOne(context.Background(), testMsg("u@example.com")); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted on second send, got %v", err)
	}
	if len(tr.attempts) != before {
		t.Fatal("disabled accounts must not be attempted again")
	}
}

func TestSendBatchRoundRobinSpread(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(nil)
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 4)

	msgs := []*message.Outgoing{
		testMsg("m0@example.com"),
		testMsg("m1@example.com"),
		testMsg("m2@example.com"),
		testMsg("m3@example.com"),
	}
	results, summary := engine.SendBatch(context.Background(), msgs)

	if summary.Total != 4 || summary.Success != 4 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	want := []string{"A", "B", "A", "B"}
	for i, item := range results {
		if !item.Delivered {
			t.Fatalf("message %d not delivered: %+v", i, item)
		}
		if item.Account != want[i] {
			t.Fatalf("message %d delivered via %s, want %s", i, item.Account, want[i])
		}
		if item.Recipient != msgs[i].Recipient {
			t.Fatalf("message %d recipient %s, want %s", i, item.Recipient, msgs[i].Recipient)
		}
	}
	for _, st := range summary.PerAccount {
		if st.Sent != 2 {
			t.Fatalf("account %s sent=%d, want 2", st.Label, st.Sent)
		}
	}
}

func TestSendBatchReassignsOnceOnDailyLimit(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(label, _ string, _ int) error {
		if label == "A" {
			return quotaErr()
		}
		return nil
	})
	// Serialized pipelines keep the A-then-mark-then-skip ordering
	// deterministic regardless of goroutine scheduling.
	engine, reg := newTestEngine(t, []string{"A", "B"}, tr, 1)

	msgs := []*message.Outgoing{
		testMsg("m0@example.com"),
		testMsg("m1@example.com"),
		testMsg("m2@example.com"),
	}
	results, summary := engine.SendBatch(context.Background(), msgs)

	if summary.Success != 3 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	reassigned := 0
	for _, item := range results {
		if !item.Delivered {
			t.Fatalf("message %d failed: %+v", item.Index, item)
		}
		if item.Account != "B" {
			t.Fatalf("message %d delivered via %s, want B", item.Index, item.Account)
		}
		if item.Reassigned {
			reassigned++
		}
	}
	// Exactly one message hits A before it is disabled; the rest pick B
	// directly and are not tagged as reassigned.
	if reassigned != 1 {
		t.Fatalf("expected exactly 1 reassigned message, got %d", reassigned)
	}
	if got := tr.attemptsFor("A"); got != 1 {
		t.Fatalf("disabled account attempted %d times, want 1", got)
	}
	if !reg.Accounts()[0].QuotaExceeded() {
		t.Fatal("A should be disabled pool-wide")
	}
	for _, st := range summary.PerAccount {
		if st.Label == "A" && !st.DisabledForLimit {
			t.Fatal("summary should report A as disabled for limit")
		}
		if st.Label == "B" && st.Sent != 3 {
			t.Fatalf("B sent=%d, want 3", st.Sent)
		}
	}
}

func TestSendBatchNonQuotaFailureIsTerminalPerMessage(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(func(_, recipient string, _ int) error {
		if recipient == "bad@example.com" {
			return rejectErr()
		}
		return nil
	})
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 4)

	msgs := []*message.Outgoing{
		testMsg("ok0@example.com"),
		testMsg("bad@example.com"),
		testMsg("ok2@example.com"),
	}
	results, summary := engine.SendBatch(context.Background(), msgs)

	if summary.Success != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if results[1].Delivered || results[1].Reason != ReasonRecipientRejected {
		t.Fatalf("message 1 should fail with recipient_rejected: %+v", results[1])
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Index != 1 || summary.Failures[0].Recipient != "bad@example.com" {
		t.Fatalf("unexpected failures list: %+v", summary.Failures)
	}
	// Rejected mail never switches accounts: one attempt total for it.
	total := tr.attemptsFor("A") + tr.attemptsFor("B")
	if total != 3 {
		t.Fatalf("expected 3 attempts overall, got %d", total)
	}
}

func TestSendBatchAccountsExhausted(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(nil)
	engine, reg := newTestEngine(t, []string{"A", "B"}, tr, 4)
	for _, a := range reg.Accounts() {
		reg.MarkQuotaExceeded(a)
	}

	results, summary := engine.SendBatch(context.Background(), []*message.Outgoing{
		testMsg("m0@example.com"),
		testMsg("m1@example.com"),
	})

	if summary.Success != 0 || summary.Failed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, item := range results {
		if item.Delivered || item.Reason != ReasonDailyLimit {
			t.Fatalf("expected daily_limit failure: %+v", item)
		}
	}
	if len(tr.attempts) != 0 {
		t.Fatal("no transport attempts expected when pool is exhausted")
	}
}

func TestSendBatchMessageAttemptedOnAtMostTwoAccounts(t *testing.T) {
	t.Parallel()

	// Every account reports quota exhaustion: each message may touch the
	// account picked at its position plus one fallback, never a third.
	tr := newFakeTransport(func(_, _ string, _ int) error { return quotaErr() })
	engine, _ := newTestEngine(t, []string{"A", "B", "C"}, tr, 1)

	results, _ := engine.SendBatch(context.Background(), []*message.Outgoing{
		testMsg("m0@example.com"),
	})

	if results[0].Delivered {
		t.Fatal("expected failure")
	}
	if len(tr.attempts) > 2 {
		t.Fatalf("message attempted on %d accounts, max is 2", len(tr.attempts))
	}
}

func TestSendBatchNilSlotKeepsPositions(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(nil)
	engine, _ := newTestEngine(t, []string{"A", "B"}, tr, 1)

	msgs := []*message.Outgoing{nil, testMsg("second@example.com")}
	items, _ := engine.SendBatch(context.Background(), msgs)

	if items[0].Delivered {
		t.Fatalf("nil slot must not be dispatched: %+v", items[0])
	}
	if items[0].Index != 0 {
		t.Fatalf("nil slot keeps its index, got %d", items[0].Index)
	}
	if !items[1].Delivered || items[1].Account != "B" {
		t.Fatalf("message at position 1 should start at account B: %+v", items[1])
	}
	if tr.attemptsFor("A") != 0 {
		t.Fatalf("account A should see no attempts, got %d", tr.attemptsFor("A"))
	}
}
