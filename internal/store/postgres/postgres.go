package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirtoko/backend/internal/domain"
	"kasirtoko/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM items
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents, &item.Stock, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.PriceCents, &item.Stock, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (name, price_cents, stock, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		RETURNING id, created_at, updated_at
	`, item.Name, item.PriceCents, item.Stock).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID < 1 || item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, price_cents = $3, stock = $4, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, item.ID, item.Name, item.PriceCents, item.Stock).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM items
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, id int64, delta int) (*domain.Item, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var item domain.Item
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&item.ID, &item.Name, &item.PriceCents, &item.Stock, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if item.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	err = pgTx.QueryRowContext(ctx, `
		UPDATE items
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock, updated_at
	`, id, delta).Scan(&item.Stock, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (s *Store) CreateTransaction(ctx context.Context, lines []domain.CartLine, at time.Time) (*domain.Transaction, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueItemIDs(lines)
	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, price_cents, stock
		FROM items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	itemMap := make(map[int64]domain.Item, len(ids))
	for itemRows.Next() {
		var item domain.Item
		if err := itemRows.Scan(&item.ID, &item.Name, &item.PriceCents, &item.Stock); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		itemMap[item.ID] = item
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	requested := make(map[int64]int, len(ids))
	for _, line := range lines {
		requested[line.ItemID] += line.Quantity
	}
	for _, id := range ids {
		item, exists := itemMap[id]
		if !exists {
			return nil, fmt.Errorf("%w: item %d", store.ErrNotFound, id)
		}
		if item.Stock < requested[id] {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, item.Name)
		}
	}

	totalCents := int64(0)
	itemsCount := 0
	txLines := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		item := itemMap[line.ItemID]
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

	tx := domain.Transaction{
		Status:     domain.TxStatusCompleted,
		TotalCents: totalCents,
		ItemsCount: itemsCount,
		CreatedAt:  at.UTC(),
		Items:      txLines,
	}
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transactions (status, total_cents, items_count, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, tx.Status, tx.TotalCents, tx.ItemsCount, tx.CreatedAt).Scan(&tx.ID)
	if err != nil {
		return nil, err
	}

	for _, line := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, item_id, item_name, price_cents, quantity)
			VALUES ($1,$2,$3,$4,$5)
		`, tx.ID, line.ItemID, line.ItemName, line.PriceCents, line.Quantity)
		if err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE items
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1
		`, id, requested[id])
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	var tx domain.Transaction
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, total_cents, items_count, created_at, voided_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&tx.ID, &tx.Status, &tx.TotalCents, &tx.ItemsCount, &tx.CreatedAt, &voidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	if voidedAt.Valid {
		t := voidedAt.Time.UTC()
		tx.VoidedAt = &t
	}

	lines, err := s.loadTransactionLines(ctx, []int64{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = lines[tx.ID]
	return &tx, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id int64, at time.Time) (*domain.Transaction, []domain.SkippedRestock, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var tx domain.Transaction
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, status, total_cents, items_count, created_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&tx.ID, &tx.Status, &tx.TotalCents, &tx.ItemsCount, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, nil, store.ErrAlreadyVoided
	}

	lineRows, err := pgTx.QueryContext(ctx, `
		SELECT item_id, item_name, price_cents, quantity
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, nil, err
	}
	lines := make([]domain.TransactionLine, 0, 8)
	for lineRows.Next() {
		var line domain.TransactionLine
		var itemID sql.NullInt64
		if err := lineRows.Scan(&itemID, &line.ItemName, &line.PriceCents, &line.Quantity); err != nil {
			_ = lineRows.Close()
			return nil, nil, err
		}
		if itemID.Valid {
			v := itemID.Int64
			line.ItemID = &v
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, nil, err
	}
	_ = lineRows.Close()

	skipped := make([]domain.SkippedRestock, 0)
	for _, line := range lines {
		restockID, found, err := s.resolveRestockTarget(ctx, pgTx, line)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			skipped = append(skipped, domain.SkippedRestock{
				ItemName: line.ItemName,
				Quantity: line.Quantity,
				Reason:   "item no longer in catalog",
			})
			continue
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE items
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1
		`, restockID, line.Quantity)
		if err != nil {
			return nil, nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, voided_at = $3
		WHERE id = $1 AND status = $4
	`, id, domain.TxStatusVoided, at, domain.TxStatusCompleted)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	tx.Status = domain.TxStatusVoided
	tx.VoidedAt = &at
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.Items = lines
	return &tx, skipped, nil
}

// resolveRestockTarget maps a void line back to a live catalog row. The
// item_id link survives most deletes as NULL, so a name lookup covers
// re-created items; when neither resolves the restock is skipped.
func (s *Store) resolveRestockTarget(ctx context.Context, pgTx *sql.Tx, line domain.TransactionLine) (int64, bool, error) {
	if line.ItemID != nil {
		var id int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM items WHERE id = $1 FOR UPDATE
		`, *line.ItemID).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false, err
		}
	}

	var id int64
	err := pgTx.QueryRowContext(ctx, `
		SELECT id FROM items WHERE name = $1 ORDER BY id LIMIT 1 FOR UPDATE
	`, line.ItemName).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) ListTransactionsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, total_cents, items_count, created_at, voided_at
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 32)
	txIDs := make([]int64, 0, 32)
	for rows.Next() {
		var tx domain.Transaction
		var voidedAt sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.Status, &tx.TotalCents, &tx.ItemsCount, &tx.CreatedAt, &voidedAt); err != nil {
			return nil, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		if voidedAt.Valid {
			t := voidedAt.Time.UTC()
			tx.VoidedAt = &t
		}
		txs = append(txs, tx)
		txIDs = append(txIDs, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.loadTransactionLines(ctx, txIDs)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		txs[i].Items = lines[txs[i].ID]
	}
	return txs, nil
}

func (s *Store) ListVoidsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, total_cents, items_count, created_at, voided_at
		FROM transactions
		WHERE status = $1 AND voided_at >= $2 AND voided_at < $3
		ORDER BY voided_at DESC, id DESC
	`, domain.TxStatusVoided, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 8)
	txIDs := make([]int64, 0, 8)
	for rows.Next() {
		var tx domain.Transaction
		var voidedAt sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.Status, &tx.TotalCents, &tx.ItemsCount, &tx.CreatedAt, &voidedAt); err != nil {
			return nil, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		if voidedAt.Valid {
			t := voidedAt.Time.UTC()
			tx.VoidedAt = &t
		}
		txs = append(txs, tx)
		txIDs = append(txIDs, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.loadTransactionLines(ctx, txIDs)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		txs[i].Items = lines[txs[i].ID]
	}
	return txs, nil
}

func (s *Store) GetDaySummary(ctx context.Context, from time.Time, to time.Time) (domain.DaySummary, error) {
	var summary domain.DaySummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(CASE WHEN status = $3 THEN 1 ELSE 0 END),0)::bigint,
			COALESCE(SUM(CASE WHEN status = $4 THEN 1 ELSE 0 END),0)::bigint,
			COALESCE(SUM(CASE WHEN status = $3 THEN total_cents ELSE 0 END),0)::bigint
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
	`, from, to, domain.TxStatusCompleted, domain.TxStatusVoided).Scan(
		&summary.TotalTransactions,
		&summary.CompletedTransactions,
		&summary.VoidedTransactions,
		&summary.TotalSalesCents,
	)
	if err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Store) loadTransactionLines(ctx context.Context, txIDs []int64) (map[int64][]domain.TransactionLine, error) {
	result := make(map[int64][]domain.TransactionLine, len(txIDs))
	if len(txIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, item_id, item_name, price_cents, quantity
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, id
	`, txIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var txID int64
		var itemID sql.NullInt64
		var line domain.TransactionLine
		if err := rows.Scan(&txID, &itemID, &line.ItemName, &line.PriceCents, &line.Quantity); err != nil {
			return nil, err
		}
		if itemID.Valid {
			v := itemID.Int64
			line.ItemID = &v
		}
		result[txID] = append(result[txID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueItemIDs(lines []domain.CartLine) []int64 {
	set := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		set[line.ItemID] = struct{}{}
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
