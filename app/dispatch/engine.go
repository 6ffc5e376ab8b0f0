package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/mailpool/relay/app/account"
	"github.com/mailpool/relay/app/message"
	"github.com/mailpool/relay/app/transport"
)

// Renderer turns an outgoing message into raw MIME content for a given
// sender address. The sender varies per account, so rendering happens per
// attempt.
type Renderer interface {
	Render(ctx context.Context, from string, msg *message.Outgoing) ([]byte, error)
}

// Engine assigns messages to pool accounts, attempts delivery, classifies
// failures, and applies the failover policy. Switching accounts happens for
// quota exhaustion only: every other failure mode is correlated with the
// message itself and would fail identically elsewhere, wasting quota.
type Engine struct {
	registry  *account.Registry
	transport transport.Transport
	renderer  Renderer
	limit     int64
	log       *logrus.Logger
}

// NewEngine builds a dispatch engine. limit bounds in-flight batch
// deliveries; values below 1 fall back to 1.
func NewEngine(registry *account.Registry, tr transport.Transport, renderer Renderer, limit int, log *logrus.Logger) *Engine {
	if limit < 1 {
		limit = 1
	}
	return &Engine{
		registry:  registry,
		transport: tr,
		renderer:  renderer,
		limit:     int64(limit),
		log:       log,
	}
}

// PoolStatus exposes the registry snapshot for the operator endpoint.
func (e *Engine) PoolStatus() []account.Status {
	return e.registry.Snapshot()
}

// SendOne delivers a single message, walking the registry in its fixed
// order. Accounts that report quota exhaustion are disabled and skipped;
// any other failure stops the walk and is surfaced with its classification.
func (e *Engine) SendOne(ctx context.Context, msg *message.Outgoing) (Result, error) {
	var lastErr error
	lastClass := Classification{Reason: ReasonDailyLimit}

	for _, acct := range e.registry.Accounts() {
		if acct.QuotaExceeded() {
			continue
		}

		id, class, err := e.attempt(ctx, acct, msg)
		if err == nil {
			acct.RecordSent()
			return Result{Account: acct.Label, Sender: acct.From(), MessageID: id}, nil
		}

		lastErr = err
		lastClass = class
		if class.Reason == ReasonDailyLimit {
			e.registry.MarkQuotaExceeded(acct)
			e.log.WithFields(logrus.Fields{
				"account": acct.Label,
				"reason":  class.Reason,
			}).Warn("account hit daily quota, failing over")
			continue
		}

		acct.RecordFailed()
		return Result{}, &DeliveryError{Class: class, Err: err}
	}

	if lastErr == nil {
		return Result{}, &DeliveryError{Class: lastClass, Err: ErrPoolExhausted}
	}
	return Result{}, &DeliveryError{Class: lastClass, Err: fmt.Errorf("%w: %v", ErrPoolExhausted, lastErr)}
}

// SendBatch delivers every message independently with bounded concurrency.
// Message i starts at Pick(i) to spread load across the pool; a quota
// failure disables the account pool-wide and allows exactly one
// reassignment to Pick(i+1). The batch never aborts early. Returns the
// per-message outcomes in submission order plus the aggregate summary.
//
// A nil entry marks a slot the caller already resolved (for instance a
// message whose attachment could not be fetched): it is skipped but keeps
// its position, so the remaining messages' account assignment does not
// shift. Its zero-valued result counts as a failure in the summary; the
// caller overwrites it.
func (e *Engine) SendBatch(ctx context.Context, msgs []*message.Outgoing) ([]BatchItem, *BatchSummary) {
	results := make([]BatchItem, len(msgs))
	sem := semaphore.NewWeighted(e.limit)
	var wg sync.WaitGroup

	for i := range msgs {
		if msgs[i] == nil {
			results[i] = BatchItem{Index: i}
			continue
		}
		wg.Add(1)
		go func(i int, msg *message.Outgoing) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = BatchItem{
					Index: i, Recipient: msg.Recipient,
					Reason: ReasonNetworkTimeout, Detail: err.Error(),
				}
				return
			}
			defer sem.Release(1)
			results[i] = e.dispatchAt(ctx, i, msg)
		}(i, msgs[i])
	}
	wg.Wait()

	// Each results slot is written by exactly one goroutine, so the
	// aggregation runs race-free after Wait.
	return results, Summarize(results, e.registry.Snapshot())
}

// Summarize aggregates terminal outcomes into a batch summary.
func Summarize(results []BatchItem, perAccount []account.Status) *BatchSummary {
	summary := &BatchSummary{
		Total:      len(results),
		PerAccount: perAccount,
	}
	for _, item := range results {
		if item.Delivered {
			summary.Success++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, BatchFailure{
			Index:     item.Index,
			Recipient: item.Recipient,
			Reason:    item.Reason,
		})
	}
	return summary
}

// dispatchAt runs one message's pipeline: initial pick at the message's
// position, at most one reassignment, and only for a quota failure.
func (e *Engine) dispatchAt(ctx context.Context, i int, msg *message.Outgoing) BatchItem {
	item := BatchItem{Index: i, Recipient: msg.Recipient}

	acct, ok := e.registry.Pick(i)
	if !ok {
		item.Reason = ReasonDailyLimit
		item.Detail = ErrPoolExhausted.Error()
		return item
	}

	id, class, err := e.attempt(ctx, acct, msg)
	if err == nil {
		acct.RecordSent()
		item.Delivered = true
		item.Account = acct.Label
		item.MessageID = id
		return item
	}

	if class.Reason != ReasonDailyLimit {
		acct.RecordFailed()
		item.Reason = class.Reason
		item.Detail = err.Error()
		return item
	}

	e.registry.MarkQuotaExceeded(acct)
	e.log.WithFields(logrus.Fields{
		"account": acct.Label,
		"index":   i,
	}).Warn("account hit daily quota mid-batch, reassigning")

	fallback, ok := e.registry.Pick(i + 1)
	if !ok {
		item.Reason = ReasonDailyLimit
		item.Detail = ErrPoolExhausted.Error()
		return item
	}

	id, class, err = e.attempt(ctx, fallback, msg)
	if err == nil {
		fallback.RecordSent()
		item.Delivered = true
		item.Account = fallback.Label
		item.MessageID = id
		item.Reassigned = true
		return item
	}

	if class.Reason == ReasonDailyLimit {
		e.registry.MarkQuotaExceeded(fallback)
	} else {
		fallback.RecordFailed()
	}
	item.Reason = class.Reason
	item.Detail = err.Error()
	return item
}

// attempt renders and sends once, permitting a single immediate retry on
// the same account for retryable classifications.
func (e *Engine) attempt(ctx context.Context, acct *account.Account, msg *message.Outgoing) (string, Classification, error) {
	raw, err := e.renderer.Render(ctx, acct.From(), msg)
	if err != nil {
		return "", Classification{Reason: ReasonUnknown}, err
	}

	id, err := e.transport.Send(ctx, acct, msg.Recipient, raw)
	if err == nil {
		return id, Classification{}, nil
	}

	class := Classify(err)
	if !class.Retryable {
		return "", class, err
	}

	e.log.WithFields(logrus.Fields{
		"account": acct.Label,
		"reason":  class.Reason,
	}).Info("transient delivery failure, retrying once on same account")

	id, retryErr := e.transport.Send(ctx, acct, msg.Recipient, raw)
	if retryErr == nil {
		return id, Classification{}, nil
	}
	return "", Classify(retryErr), retryErr
}
