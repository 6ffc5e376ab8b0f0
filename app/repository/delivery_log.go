package repository

import (
	"context"
	"database/sql"

	"github.com/mailpool/relay/app/entity"
)

// DeliveryLogRepository persists relay outcomes to MySQL for auditing.
type DeliveryLogRepository struct {
	db *sql.DB
}

// NewDeliveryLogRepository constructs a repository backed by MySQL.
func NewDeliveryLogRepository(db *sql.DB) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

// Record inserts one delivery outcome.
func (r *DeliveryLogRepository) Record(ctx context.Context, rec entity.DeliveryRecord) error {
	const query = `
		INSERT INTO delivery_log (request_id, recipient, subject, account, message_id, reason, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID, rec.Recipient, rec.Subject, rec.Account, rec.MessageID, rec.Reason, rec.Status)
	return err
}

// CountByStatus returns how many recorded outcomes carry the given status.
func (r *DeliveryLogRepository) CountByStatus(ctx context.Context, status int16) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM delivery_log
		WHERE status = ?
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, status).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// NoopRecorder discards outcomes. Used when no MySQL DSN is configured.
type NoopRecorder struct{}

// Record returns nil without writing.
func (NoopRecorder) Record(_ context.Context, _ entity.DeliveryRecord) error {
	return nil
}
