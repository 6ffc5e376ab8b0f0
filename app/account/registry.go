package account

import "errors"

var ErrNoAccounts = errors.New("no sender accounts configured")

// Registry is an ordered, immutable pool of sender accounts. The ordering is
// established once at construction and serves as the round-robin base for
// batch dispatch. Accounts missing an identity or secret are excluded.
type Registry struct {
	accounts []*Account
}

// NewRegistry builds a registry from injected credentials, preserving order
// and skipping entries without both identity and secret.
func NewRegistry(creds []Credentials) (*Registry, error) {
	accounts := make([]*Account, 0, len(creds))
	for _, c := range creds {
		if c.Identity == "" || c.Secret == "" {
			continue
		}
		label := c.Label
		if label == "" {
			label = c.Identity
		}
		accounts = append(accounts, &Account{
			Label:    label,
			Identity: c.Identity,
			Secret:   c.Secret,
			from:     c.From,
		})
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return &Registry{accounts: accounts}, nil
}

// Accounts returns the pool in its fixed order.
func (r *Registry) Accounts() []*Account {
	return r.accounts
}

// Len returns the number of eligible-at-construction accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// Pick returns the first account at or after start (wrapping) that is not
// quota-disabled, or false when every account in the pool is disabled.
func (r *Registry) Pick(start int) (*Account, bool) {
	n := len(r.accounts)
	if n == 0 {
		return nil, false
	}
	if start < 0 {
		start = 0
	}
	for i := 0; i < n; i++ {
		a := r.accounts[(start+i)%n]
		if !a.quotaExceeded.Load() {
			return a, true
		}
	}
	return nil, false
}

// MarkQuotaExceeded disables an account for the remainder of the process.
// Idempotent; concurrent marking from in-flight messages is harmless since
// the second write is a no-op.
func (r *Registry) MarkQuotaExceeded(a *Account) {
	a.quotaExceeded.Store(true)
}

// Snapshot returns the current status of every account in pool order.
func (r *Registry) Snapshot() []Status {
	statuses := make([]Status, len(r.accounts))
	for i, a := range r.accounts {
		statuses[i] = a.Snapshot()
	}
	return statuses
}
