package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"kasirtoko/backend/internal/domain"
	"kasirtoko/backend/internal/store"
)

// newIntegrationStore connects to the database named by TEST_DATABASE_URL
// (or DATABASE_URL) and skips the test when neither is set, so the suite
// stays runnable without a local Postgres.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestSaleVoidRestockAgainstPostgres(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	item := domain.Item{
		Name:       fmt.Sprintf("integration-item-%d", time.Now().UnixNano()),
		PriceCents: 150000,
		Stock:      7,
	}
	created, err := s.CreateItem(ctx, item)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	var txIDs []int64
	t.Cleanup(func() {
		for _, id := range txIDs {
			_, _ = s.db.ExecContext(context.Background(),
				`DELETE FROM transaction_items WHERE transaction_id = $1`, id)
			_, _ = s.db.ExecContext(context.Background(),
				`DELETE FROM transactions WHERE id = $1`, id)
		}
		_, _ = s.db.ExecContext(context.Background(),
			`DELETE FROM items WHERE id = $1`, created.ID)
	})

	tx, err := s.CreateTransaction(ctx, []domain.CartLine{{ItemID: created.ID, Quantity: 3}}, time.Now().UTC())
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	txIDs = append(txIDs, tx.ID)
	if tx.TotalCents != 450000 {
		t.Fatalf("expected total 450000, got %d", tx.TotalCents)
	}

	after, err := s.GetItem(ctx, created.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Stock != 4 {
		t.Fatalf("expected stock 4 after sale, got %d", after.Stock)
	}

	if _, err := s.CreateTransaction(ctx, []domain.CartLine{{ItemID: created.ID, Quantity: 5}}, time.Now().UTC()); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	voided, skipped, err := s.VoidTransaction(ctx, tx.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("void transaction: %v", err)
	}
	if voided.Status != domain.TxStatusVoided || voided.VoidedAt == nil {
		t.Fatalf("unexpected voided transaction: %+v", voided)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped restocks, got %+v", skipped)
	}

	restocked, err := s.GetItem(ctx, created.ID)
	if err != nil {
		t.Fatalf("get item after void: %v", err)
	}
	if restocked.Stock != 7 {
		t.Fatalf("expected stock restored to 7, got %d", restocked.Stock)
	}

	if _, _, err := s.VoidTransaction(ctx, tx.ID, time.Now().UTC()); !errors.Is(err, store.ErrAlreadyVoided) {
		t.Fatalf("expected ErrAlreadyVoided on second void, got %v", err)
	}
}
