package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirtoko/backend/internal/domain"
	"kasirtoko/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	nextItemID       int64
	nextTxID         int64
	itemsByID        map[int64]domain.Item
	transactionsByID map[int64]*domain.Transaction
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		nextItemID:       1,
		nextTxID:         1,
		itemsByID:        make(map[int64]domain.Item),
		transactionsByID: make(map[int64]*domain.Transaction),
		usersByUsername:  seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	seed := []domain.Item{
		{Name: "Nasi Goreng Spesial", PriceCents: 2500000, Stock: 50},
		{Name: "Mie Goreng", PriceCents: 2000000, Stock: 50},
		{Name: "Es Teh Manis", PriceCents: 500000, Stock: 120},
		{Name: "Kopi Susu", PriceCents: 1200000, Stock: 80},
		{Name: "Ayam Bakar", PriceCents: 3000000, Stock: 40},
		{Name: "Keripik Singkong", PriceCents: 800000, Stock: 60},
		{Name: "Air Mineral 600ml", PriceCents: 400000, Stock: 200},
		{Name: "Roti Bakar Coklat", PriceCents: 1500000, Stock: 35},
	}
	for _, item := range seed {
		item.ID = s.nextItemID
		s.nextItemID++
		item.CreatedAt = now
		item.UpdatedAt = now
		s.itemsByID[item.ID] = item
	}
	return s
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Name == b.Name {
			return int(a.ID - b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})

	return items, nil
}

func (s *Store) GetItem(_ context.Context, id int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.itemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	item.ID = s.nextItemID
	s.nextItemID++
	item.CreatedAt = now
	item.UpdatedAt = now
	s.itemsByID[item.ID] = item

	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID < 1 || item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.itemsByID[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	s.itemsByID[item.ID] = item

	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.itemsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.itemsByID, id)

	// Mirror the SQL ON DELETE SET NULL linkage so voids fall back to
	// the snapshot name.
	for _, tx := range s.transactionsByID {
		for i := range tx.Items {
			if tx.Items[i].ItemID != nil && *tx.Items[i].ItemID == id {
				tx.Items[i].ItemID = nil
			}
		}
	}
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id int64, delta int) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.itemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	item.Stock += delta
	item.UpdatedAt = time.Now().UTC()
	s.itemsByID[id] = item

	adjusted := item
	return &adjusted, nil
}

func (s *Store) CreateTransaction(_ context.Context, lines []domain.CartLine, at time.Time) (*domain.Transaction, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, line := range lines {
		if line.ItemID < 1 || line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	requested := make(map[int64]int, len(lines))
	for _, line := range lines {
		requested[line.ItemID] += line.Quantity
	}
	for id, qty := range requested {
		item, exists := s.itemsByID[id]
		if !exists {
			return nil, fmt.Errorf("%w: item %d", store.ErrNotFound, id)
		}
		if item.Stock < qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, item.Name)
		}
	}

	totalCents := int64(0)
	itemsCount := 0
	txLines := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		item := s.itemsByID[line.ItemID]
		itemID := item.ID
		txLines = append(txLines, domain.TransactionLine{
			ItemID:     &itemID,
			ItemName:   item.Name,
			PriceCents: item.PriceCents,
			Quantity:   line.Quantity,
		})
		totalCents += item.PriceCents * int64(line.Quantity)
		itemsCount += line.Quantity
	}

	now := time.Now().UTC()
	for id, qty := range requested {
		item := s.itemsByID[id]
		item.Stock -= qty
		item.UpdatedAt = now
		s.itemsByID[id] = item
	}

	tx := &domain.Transaction{
		ID:         s.nextTxID,
		Status:     domain.TxStatusCompleted,
		TotalCents: totalCents,
		ItemsCount: itemsCount,
		CreatedAt:  at.UTC(),
		Items:      txLines,
	}
	s.nextTxID++
	s.transactionsByID[tx.ID] = tx

	return copyTransaction(tx), nil
}

func (s *Store) GetTransactionByID(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (s *Store) VoidTransaction(_ context.Context, id int64, at time.Time) (*domain.Transaction, []domain.SkippedRestock, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, nil, store.ErrAlreadyVoided
	}

	skipped := make([]domain.SkippedRestock, 0)
	now := time.Now().UTC()
	for _, line := range tx.Items {
		restockID, found := s.resolveRestockTarget(line)
		if !found {
			skipped = append(skipped, domain.SkippedRestock{
				ItemName: line.ItemName,
				Quantity: line.Quantity,
				Reason:   "item no longer in catalog",
			})
			continue
		}
		item := s.itemsByID[restockID]
		item.Stock += line.Quantity
		item.UpdatedAt = now
		s.itemsByID[restockID] = item
	}

	voidedAt := at.UTC()
	tx.Status = domain.TxStatusVoided
	tx.VoidedAt = &voidedAt

	return copyTransaction(tx), skipped, nil
}

func (s *Store) resolveRestockTarget(line domain.TransactionLine) (int64, bool) {
	if line.ItemID != nil {
		if _, exists := s.itemsByID[*line.ItemID]; exists {
			return *line.ItemID, true
		}
	}
	best := int64(0)
	for id, item := range s.itemsByID {
		if item.Name != line.ItemName {
			continue
		}
		if best == 0 || id < best {
			best = id
		}
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}

func (s *Store) ListTransactionsBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		txs = append(txs, *copyTransaction(tx))
	}

	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(b.ID - a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return txs, nil
}

func (s *Store) ListVoidsBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]domain.Transaction, 0, 8)
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.TxStatusVoided || tx.VoidedAt == nil {
			continue
		}
		if tx.VoidedAt.Before(from) || !tx.VoidedAt.Before(to) {
			continue
		}
		txs = append(txs, *copyTransaction(tx))
	}

	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if a.VoidedAt.Equal(*b.VoidedAt) {
			return int(b.ID - a.ID)
		}
		if a.VoidedAt.After(*b.VoidedAt) {
			return -1
		}
		return 1
	})

	return txs, nil
}

func (s *Store) GetDaySummary(_ context.Context, from time.Time, to time.Time) (domain.DaySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary domain.DaySummary
	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		summary.TotalTransactions++
		switch tx.Status {
		case domain.TxStatusCompleted:
			summary.CompletedTransactions++
			summary.TotalSalesCents += tx.TotalCents
		case domain.TxStatusVoided:
			summary.VoidedTransactions++
		}
	}
	return summary, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func copyTransaction(tx *domain.Transaction) *domain.Transaction {
	copyTx := *tx
	copyTx.Items = make([]domain.TransactionLine, len(tx.Items))
	copy(copyTx.Items, tx.Items)
	for i := range copyTx.Items {
		if tx.Items[i].ItemID != nil {
			v := *tx.Items[i].ItemID
			copyTx.Items[i].ItemID = &v
		}
	}
	if tx.VoidedAt != nil {
		v := *tx.VoidedAt
		copyTx.VoidedAt = &v
	}
	return &copyTx
}
