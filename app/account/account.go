package account

import "sync/atomic"

// Credentials is the injected configuration for a single sending identity.
// Identity and Secret are opaque to the registry; the transport decides how
// to use them (SMTP username/password, AWS access key pair, ...).
type Credentials struct {
	Label    string
	Identity string
	Secret   string
	From     string
}

// Account is one credentialed sending identity in the pool. The quota flag
// is sticky for the process lifetime; a restart resets all accounts to
// eligible, which is intentional since quota state is heuristic.
type Account struct {
	Label    string
	Identity string
	Secret   string
	from     string

	quotaExceeded atomic.Bool
	sent          atomic.Int64
	failed        atomic.Int64
}

// From returns the sender address for outgoing mail, falling back to the
// identity when no explicit address is configured.
func (a *Account) From() string {
	if a.from != "" {
		return a.from
	}
	return a.Identity
}

// QuotaExceeded reports whether this account has been disabled for hitting
// its daily sending quota.
func (a *Account) QuotaExceeded() bool {
	return a.quotaExceeded.Load()
}

// RecordSent increments the account's successful-delivery counter.
func (a *Account) RecordSent() {
	a.sent.Add(1)
}

// RecordFailed increments the account's failed-delivery counter.
func (a *Account) RecordFailed() {
	a.failed.Add(1)
}

// Status is a point-in-time view of one account's counters.
type Status struct {
	Label            string `json:"label"`
	Sender           string `json:"sender"`
	Sent             int64  `json:"sent"`
	Failed           int64  `json:"failed"`
	DisabledForLimit bool   `json:"disabledForLimit"`
}

// Snapshot returns the account's current status.
func (a *Account) Snapshot() Status {
	return Status{
		Label:            a.Label,
		Sender:           a.From(),
		Sent:             a.sent.Load(),
		Failed:           a.failed.Load(),
		DisabledForLimit: a.quotaExceeded.Load(),
	}
}
