package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirtoko/backend/internal/domain"
	"kasirtoko/backend/internal/report"
	"kasirtoko/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	reports *report.Aggregator
}

func New(repo store.Repository, reports *report.Aggregator) *Service {
	return &Service{
		repo:    repo,
		reports: reports,
	}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	if id < 1 {
		return domain.Item{}, store.ErrInvalidInput
	}
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Item{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if req.PriceCents < 0 || req.Stock < 0 {
		return domain.Item{}, fmt.Errorf("%w: price and stock must not be negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
	})
	if err != nil {
		return domain.Item{}, err
	}
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Item{}, fmt.Errorf("admin role required")
	}
	if id < 1 {
		return domain.Item{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Item{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Item{}, fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
		}
		updated.Stock = *req.Stock
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}
	return *saved, nil
}

// DeleteItem removes a catalog row. History is unaffected: sold lines
// keep their name and price snapshot, only the item_id link goes away.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if id < 1 {
		return store.ErrInvalidInput
	}
	return s.repo.DeleteItem(ctx, id)
}

func (s *Service) AdjustStock(ctx context.Context, id int64, req domain.StockAdjustRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Item{}, fmt.Errorf("admin role required")
	}
	if id < 1 {
		return domain.Item{}, store.ErrInvalidInput
	}
	if req.Delta == 0 {
		return domain.Item{}, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidInput)
	}

	adjusted, err := s.repo.AdjustStock(ctx, id, req.Delta)
	if err != nil {
		return domain.Item{}, err
	}
	return *adjusted, nil
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	if len(req.Items) == 0 {
		return domain.Transaction{}, fmt.Errorf("%w: at least one line is required", store.ErrInvalidInput)
	}
	for _, line := range req.Items {
		if line.ItemID < 1 {
			return domain.Transaction{}, fmt.Errorf("%w: item_id must be positive", store.ErrInvalidInput)
		}
		if line.Quantity < 1 {
			return domain.Transaction{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
	}

	tx, err := s.repo.CreateTransaction(ctx, req.Items, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.reports.Invalidate(ctx, tx.CreatedAt)
	return *tx, nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	if id < 1 {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	tx, err := s.repo.GetTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, date string) (domain.TransactionListResponse, error) {
	resp, err := s.reports.TransactionsForDate(ctx, date)
	if err != nil {
		return domain.TransactionListResponse{}, err
	}
	return *resp, nil
}

func (s *Service) VoidTransaction(ctx context.Context, id int64) (domain.VoidResponse, error) {
	if id < 1 {
		return domain.VoidResponse{}, store.ErrInvalidInput
	}

	tx, skipped, err := s.repo.VoidTransaction(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.VoidResponse{}, err
	}
	for _, skip := range skipped {
		log.Printf("[service] WARN: void tx=%d skipped restock of %q qty=%d: %s", tx.ID, skip.ItemName, skip.Quantity, skip.Reason)
	}

	// The sale date summary changes and the void lands on today's
	// timeline, so both days need fresh reports.
	s.reports.Invalidate(ctx, tx.CreatedAt)
	if tx.VoidedAt != nil {
		s.reports.Invalidate(ctx, *tx.VoidedAt)
	}

	return domain.VoidResponse{Transaction: *tx, SkippedRestock: skipped}, nil
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.DailyReport{}, fmt.Errorf("admin role required")
	}
	result, err := s.reports.Daily(ctx, date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	return *result, nil
}

func (s *Service) TimelineReport(ctx context.Context, date string) (domain.TimelineReport, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.TimelineReport{}, fmt.Errorf("admin role required")
	}
	result, err := s.reports.Timeline(ctx, date)
	if err != nil {
		return domain.TimelineReport{}, err
	}
	return *result, nil
}
