package dispatch

import (
	"context"
	"errors"
	"net"
	"regexp"

	"github.com/mailpool/relay/app/transport"
)

// Reason is the failure taxonomy for a classified delivery error.
type Reason string

const (
	ReasonDailyLimit        Reason = "daily_limit"
	ReasonRecipientRejected Reason = "recipient_rejected"
	ReasonTemporaryFailure  Reason = "temporary_failure"
	ReasonNetworkTimeout    Reason = "network_timeout"
	ReasonUnknown           Reason = "unknown"
)

// Classification is the outcome of mapping a transport error onto the
// failure taxonomy. Retryable means one immediate retry on the same account
// is worthwhile; it never justifies switching accounts.
type Classification struct {
	Reason    Reason
	Retryable bool
}

var (
	// Quota-exhaustion phrasing seen across providers: Gmail-style daily
	// quota replies and SES limit faults.
	quotaPattern = regexp.MustCompile(`(?i)daily (user )?sending quota|daily message quota|sending limit exceeded|quota exceeded|limitexceeded`)

	rejectedPattern = regexp.MustCompile(`(?i)user unknown|no such user|unknown recipient|mailbox (unavailable|not found|does not exist|disabled)|recipient .*(rejected|denied)|address rejected|messagerejected|blocked|suppress`)

	networkPattern = regexp.MustCompile(`(?i)connection (refused|reset)|i/o timeout|timed? ?out|broken pipe|no such host|network is unreachable|eof`)
)

// Classify maps a delivery error onto the failure taxonomy. Pure function of
// the error's structured code and message text; first matching rule wins:
// quota text, permanent rejection, temporary SMTP code, network failure,
// then Unknown. Unknown is treated conservatively as non-retryable so an
// unrecognized condition never burns a second attempt.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Reason: ReasonUnknown}
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		if quotaPattern.MatchString(terr.Message) {
			return Classification{Reason: ReasonDailyLimit}
		}
		switch terr.Code {
		case 550, 551, 553, 554:
			return Classification{Reason: ReasonRecipientRejected}
		}
		if rejectedPattern.MatchString(terr.Message) {
			return Classification{Reason: ReasonRecipientRejected}
		}
		if terr.Code >= 400 && terr.Code < 500 {
			return Classification{Reason: ReasonTemporaryFailure, Retryable: true}
		}
		if networkPattern.MatchString(terr.Message) {
			return Classification{Reason: ReasonNetworkTimeout, Retryable: true}
		}
		return Classification{Reason: ReasonUnknown}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Reason: ReasonNetworkTimeout, Retryable: true}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return Classification{Reason: ReasonNetworkTimeout, Retryable: true}
	}
	if networkPattern.MatchString(err.Error()) {
		return Classification{Reason: ReasonNetworkTimeout, Retryable: true}
	}

	return Classification{Reason: ReasonUnknown}
}
