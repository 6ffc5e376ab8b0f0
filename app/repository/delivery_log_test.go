package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mailpool/relay/app/entity"
)

func TestDeliveryLogRecord(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewDeliveryLogRepository(db)

	mock.ExpectExec("INSERT INTO delivery_log").
		WithArgs("req-1", "a@b.com", "subj", "primary", "msg-123", "", entity.DeliveryStatusSent).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := entity.DeliveryRecord{
		RequestID: "req-1",
		Recipient: "a@b.com",
		Subject:   "subj",
		Account:   "primary",
		MessageID: "msg-123",
		Status:    entity.DeliveryStatusSent,
	}
	if err := repo.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeliveryLogCountByStatus(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewDeliveryLogRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM delivery_log").
		WithArgs(entity.DeliveryStatusFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountByStatus(context.Background(), entity.DeliveryStatusFailed)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if count != 7 {
		t.Fatalf("count = %d, want 7", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
