package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailpool/relay/app/account"
	"github.com/mailpool/relay/app/attachment"
	"github.com/mailpool/relay/app/dispatch"
	"github.com/mailpool/relay/app/dto"
	"github.com/mailpool/relay/app/entity"
	"github.com/mailpool/relay/app/lock"
	"github.com/mailpool/relay/app/message"
)

var ErrDuplicateRequest = errors.New("request is already being processed")

const lockTTL = 2 * time.Minute

// Recorder persists relay outcomes for auditing.
type Recorder interface {
	Record(ctx context.Context, rec entity.DeliveryRecord) error
}

// StatusCounter is implemented by recorders that can report aggregate
// outcome counts from the audit log.
type StatusCounter interface {
	CountByStatus(ctx context.Context, status int16) (int64, error)
}

// Dispatcher is the engine surface the service depends on.
type Dispatcher interface {
	SendOne(ctx context.Context, msg *message.Outgoing) (dispatch.Result, error)
	SendBatch(ctx context.Context, msgs []*message.Outgoing) ([]dispatch.BatchItem, *dispatch.BatchSummary)
	PoolStatus() []account.Status
}

// RelayService resolves attachments, guards duplicate submissions, hands
// messages to the dispatch engine, and records outcomes.
type RelayService struct {
	engine   Dispatcher
	resolver *attachment.Resolver
	recorder Recorder
	locker   lock.Locker
	log      *logrus.Logger
}

// NewRelayService builds the relay service with its dependencies.
func NewRelayService(engine Dispatcher, resolver *attachment.Resolver, recorder Recorder, locker lock.Locker, log *logrus.Logger) *RelayService {
	return &RelayService{engine: engine, resolver: resolver, recorder: recorder, locker: locker, log: log}
}

// PoolStatus exposes per-account counters for the operator endpoint.
func (s *RelayService) PoolStatus() []account.Status {
	return s.engine.PoolStatus()
}

// DeliveryTotals reports audit-log totals per terminal status. Returns nil
// when the recorder cannot count (noop recorder) or the count fails, so
// the operator endpoint can simply omit the section.
func (s *RelayService) DeliveryTotals(ctx context.Context) map[string]int64 {
	counter, ok := s.recorder.(StatusCounter)
	if !ok {
		return nil
	}

	totals := make(map[string]int64, 3)
	for name, status := range map[string]int16{
		"sent":       entity.DeliveryStatusSent,
		"reassigned": entity.DeliveryStatusReassigned,
		"failed":     entity.DeliveryStatusFailed,
	} {
		n, err := counter.CountByStatus(ctx, status)
		if err != nil {
			s.log.WithError(err).Warn("failed to count delivery outcomes")
			return nil
		}
		totals[name] = n
	}
	return totals
}

// SendOne relays a single message. A request_id, when present, takes the
// duplicate-send guard for the duration of the attempt.
func (s *RelayService) SendOne(ctx context.Context, req dto.SendRequest) (dispatch.Result, error) {
	if req.RequestID != "" {
		lockKey := fmt.Sprintf("relay:request:%s", req.RequestID)
		if err := s.locker.Acquire(ctx, lockKey, lockTTL); err != nil {
			if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, lock.ErrAlreadyHeld) {
				return dispatch.Result{}, ErrDuplicateRequest
			}
			return dispatch.Result{}, fmt.Errorf("acquire request lock: %w", err)
		}
		defer func() {
			_ = s.locker.Release(context.Background(), lockKey)
		}()
	}

	msg, err := s.buildMessage(ctx, req)
	if err != nil {
		return dispatch.Result{}, err
	}

	res, err := s.engine.SendOne(ctx, msg)
	s.recordOne(ctx, req, res, err)
	if err != nil {
		return dispatch.Result{}, err
	}

	s.log.WithFields(logrus.Fields{
		"recipient": req.To,
		"account":   res.Account,
		"id":        res.MessageID,
	}).Info("message relayed")
	return res, nil
}

// SendBatch relays every message independently. Messages whose attachment
// cannot be resolved fail up front without consuming a dispatch slot but
// keep their position in the batch handed to the engine, so the surviving
// messages' account assignment still follows their submission position.
func (s *RelayService) SendBatch(ctx context.Context, reqs []dto.SendRequest) ([]dispatch.BatchItem, *dispatch.BatchSummary) {
	items := make([]dispatch.BatchItem, len(reqs))
	msgs := make([]*message.Outgoing, len(reqs))

	for i, req := range reqs {
		msg, err := s.buildMessage(ctx, req)
		if err != nil {
			items[i] = dispatch.BatchItem{
				Index:     i,
				Recipient: req.To,
				Reason:    dispatch.ReasonUnknown,
				Detail:    err.Error(),
			}
			continue
		}
		msgs[i] = msg
	}

	results, _ := s.engine.SendBatch(ctx, msgs)
	for i := range results {
		if msgs[i] == nil {
			continue
		}
		items[i] = results[i]
	}

	// items is in submission order, so the summary's failure list is too.
	summary := dispatch.Summarize(items, s.engine.PoolStatus())

	for i, item := range items {
		s.recordItem(ctx, reqs[i], item)
	}

	s.log.WithFields(logrus.Fields{
		"total":   summary.Total,
		"success": summary.Success,
		"failed":  summary.Failed,
	}).Info("batch dispatched")
	return items, summary
}

// buildMessage validates the request and resolves its attachment to bytes.
func (s *RelayService) buildMessage(ctx context.Context, req dto.SendRequest) (*message.Outgoing, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var data []byte
	var err error
	if req.PDF != "" {
		data, err = s.resolver.Decode(req.PDF)
	} else {
		data, err = s.resolver.Fetch(ctx, req.AttachmentURL)
	}
	if err != nil {
		return nil, err
	}

	msg := &message.Outgoing{
		Recipient: req.To,
		Subject:   req.Subject,
		BodyText:  req.Body,
		Attachment: message.Attachment{
			Inline:   data,
			Filename: req.Filename,
		},
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *RelayService) recordOne(ctx context.Context, req dto.SendRequest, res dispatch.Result, sendErr error) {
	rec := entity.DeliveryRecord{
		RequestID: req.RequestID,
		Recipient: req.To,
		Subject:   req.Subject,
	}
	if sendErr == nil {
		rec.Account = res.Account
		rec.MessageID = res.MessageID
		rec.Status = entity.DeliveryStatusSent
	} else {
		rec.Status = entity.DeliveryStatusFailed
		var derr *dispatch.DeliveryError
		if errors.As(sendErr, &derr) {
			rec.Reason = string(derr.Class.Reason)
		}
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.log.WithError(err).Warn("failed to record delivery outcome")
	}
}

func (s *RelayService) recordItem(ctx context.Context, req dto.SendRequest, item dispatch.BatchItem) {
	rec := entity.DeliveryRecord{
		RequestID: req.RequestID,
		Recipient: item.Recipient,
		Subject:   req.Subject,
		Account:   item.Account,
		MessageID: item.MessageID,
		Reason:    string(item.Reason),
	}
	switch {
	case item.Delivered && item.Reassigned:
		rec.Status = entity.DeliveryStatusReassigned
		rec.Reason = ""
	case item.Delivered:
		rec.Status = entity.DeliveryStatusSent
		rec.Reason = ""
	default:
		rec.Status = entity.DeliveryStatusFailed
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.log.WithError(err).Warn("failed to record delivery outcome")
	}
}
