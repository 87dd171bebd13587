package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
)

const accountColumns = `id, user_id, email_address, display_name, smtp_host, smtp_port, is_default, created_at`

type accounts struct{ s *Store }

func (a accounts) Create(ctx context.Context, acc *email.Account) error {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	_, err := a.s.q.NamedExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (:id, :user_id, :email_address, :display_name, :smtp_host, :smtp_port, :is_default, :created_at)
	`, acc)
	return mapErr("insert account", err)
}

func (a accounts) Update(ctx context.Context, acc *email.Account) error {
	if !validID(acc.ID) {
		return store.ErrNotFound
	}
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	res, err := a.s.q.NamedExecContext(ctx, `
		UPDATE accounts SET
			user_id = :user_id, email_address = :email_address, display_name = :display_name,
			smtp_host = :smtp_host, smtp_port = :smtp_port, is_default = :is_default
		WHERE id = :id
	`, acc)
	if err != nil {
		return mapErr("update account", err)
	}
	return requireRow(res, "update account")
}

func (a accounts) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	res, err := a.s.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete account", err)
	}
	return requireRow(res, "delete account")
}

func (a accounts) FindByID(ctx context.Context, id string) (*email.Account, error) {
	if !validID(id) {
		return nil, store.ErrNotFound
	}
	return a.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (a accounts) FindByAddress(ctx context.Context, address string) (*email.Account, error) {
	return a.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email_address) = $1`,
		strings.ToLower(strings.TrimSpace(address)))
}

func (a accounts) FindDefault(ctx context.Context, userID string) (*email.Account, error) {
	return a.get(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1 AND is_default = TRUE
		ORDER BY created_at ASC, id
		LIMIT 1
	`, userID)
}

func (a accounts) get(ctx context.Context, query string, args ...any) (*email.Account, error) {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	var acc email.Account
	if err := a.s.q.GetContext(ctx, &acc, query, args...); err != nil {
		return nil, mapErr("get account", err)
	}
	return &acc, nil
}

func (a accounts) CountDefaults(ctx context.Context, userID string) (int, error) {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	var n int
	err := a.s.q.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts WHERE user_id = $1 AND is_default = TRUE`, userID)
	if err != nil {
		return 0, mapErr("count defaults", err)
	}
	return n, nil
}

func (a accounts) ClearDefault(ctx context.Context, userID, exceptID string) error {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	_, err := a.s.q.ExecContext(ctx, `
		UPDATE accounts SET is_default = FALSE
		WHERE user_id = $1 AND id::text <> $2 AND is_default = TRUE
	`, userID, exceptID)
	return mapErr("clear default", err)
}

func (a accounts) SetDefault(ctx context.Context, id string, isDefault bool) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	res, err := a.s.q.ExecContext(ctx, `UPDATE accounts SET is_default = $1 WHERE id = $2`, isDefault, id)
	if err != nil {
		return mapErr("set default", err)
	}
	return requireRow(res, "set default")
}

func (a accounts) ListByUser(ctx context.Context, userID string) ([]*email.Account, error) {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	var out []*email.Account
	err := a.s.q.SelectContext(ctx, &out, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1
		ORDER BY created_at ASC, id
	`, userID)
	if err != nil {
		return nil, mapErr("list accounts", err)
	}
	return out, nil
}

// LockUser takes a transaction-scoped advisory lock keyed by userID. It
// only serializes anything when called inside WithinTx.
func (a accounts) LockUser(ctx context.Context, userID string) error {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	_, err := a.s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return mapErr("lock user", err)
}
