package store

import (
	"context"
	"errors"
	"time"

	"kasirtoko/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyVoided     = errors.New("transaction already voided")
)

type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id int64) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, delta int) (*domain.Item, error)
	CreateTransaction(ctx context.Context, lines []domain.CartLine, at time.Time) (*domain.Transaction, error)
	GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)
	VoidTransaction(ctx context.Context, id int64, at time.Time) (*domain.Transaction, []domain.SkippedRestock, error)
	ListTransactionsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	GetDaySummary(ctx context.Context, from time.Time, to time.Time) (domain.DaySummary, error)
	ListVoidsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
