package dispatch

import (
	"errors"
	"fmt"

	"github.com/mailpool/relay/app/account"
)

// ErrPoolExhausted signals that every account in the registry was disabled
// or rejected the message with a quota error before a delivery succeeded.
var ErrPoolExhausted = errors.New("all sender accounts exhausted")

// DeliveryError is a terminal delivery failure together with its
// classification, surfaced verbatim to the caller.
type DeliveryError struct {
	Class Classification
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %v", e.Class.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a successful single delivery.
type Result struct {
	Account    string `json:"account"`
	Sender     string `json:"sender"`
	MessageID  string `json:"id"`
	Reassigned bool   `json:"reassigned,omitempty"`
}

// BatchItem is the terminal outcome for one message in a batch.
type BatchItem struct {
	Index      int    `json:"index"`
	Recipient  string `json:"recipient"`
	Delivered  bool   `json:"delivered"`
	Account    string `json:"account,omitempty"`
	MessageID  string `json:"id,omitempty"`
	Reassigned bool   `json:"reassigned,omitempty"`
	Reason     Reason `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// BatchFailure is one entry in the summary's ordered failure list.
type BatchFailure struct {
	Index     int    `json:"index"`
	Recipient string `json:"recipient"`
	Reason    Reason `json:"reason"`
}

// BatchSummary aggregates a whole batch: totals, per-account counters, and
// every failure in message order.
type BatchSummary struct {
	Total      int              `json:"total"`
	Success    int              `json:"success"`
	Failed     int              `json:"failed"`
	PerAccount []account.Status `json:"perAccount"`
	Failures   []BatchFailure   `json:"failures"`
}
