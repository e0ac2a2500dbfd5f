package events

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs(ProviderHandoffQueue, "evt").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), ProviderHandoffQueue, "evt")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs(ProviderHandoffQueue, "evt-miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), ProviderHandoffQueue, "evt-miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs(ProviderHandoffQueue, "evt-new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), ProviderHandoffQueue, "evt-new")
	if err != nil || !ok {
		t.Fatalf("expected mark processed success, got %v %v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreWrapsQueryErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs(ProviderHandoffQueue, "evt").WillReturnError(boom)
	if _, err := newProcessedStoreWithExec(mock).AlreadyProcessed(context.Background(), ProviderHandoffQueue, "evt"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestProcessedStorePrune(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectExec("DELETE FROM processed_events").WithArgs(float64(3600)).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := store.Prune(context.Background(), time.Hour)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 pruned, got %d %v", n, err)
	}

	if n, err := store.Prune(context.Background(), 0); err != nil || n != 0 {
		t.Fatalf("zero retention must be a no-op, got %d %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
