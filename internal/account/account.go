// Package account manages the mail accounts of a user and keeps exactly
// one of them flagged as default whenever the user has any.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
)

var (
	ErrNotFound       = errors.New("account: not found")
	ErrForbidden      = errors.New("account: forbidden")
	ErrInvalidAddress = errors.New("account: invalid email address")
	ErrAddressTaken   = errors.New("account: email address already registered")
)

// Service applies the default-account rules on top of an AccountStore.
// Every write takes the per-user lock first, so concurrent writes for one
// user cannot leave zero or two defaults behind.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default.
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// Create adds acc for userID. The account becomes default when flagged so
// or when the user has no default yet.
func (s *Service) Create(ctx context.Context, userID string, acc *email.Account) (*email.Account, error) {
	if err := normalize(acc); err != nil {
		return nil, err
	}
	acc.ID = ""
	acc.UserID = userID

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		accounts := tx.Accounts()
		if err := accounts.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := resolveDefault(ctx, accounts, acc); err != nil {
			return err
		}
		if err := accounts.Create(ctx, acc); err != nil {
			if errors.Is(err, store.ErrDuplicateEntry) {
				return ErrAddressTaken
			}
			return fmt.Errorf("failed to create account: %w", err)
		}
		return ensureDefault(ctx, accounts, acc)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account created",
		slog.String("user_id", userID),
		slog.String("account_id", acc.ID),
		slog.Bool("default", acc.IsDefault))
	return acc, nil
}

// Update rewrites an account owned by userID.
func (s *Service) Update(ctx context.Context, userID string, acc *email.Account) (*email.Account, error) {
	if err := normalize(acc); err != nil {
		return nil, err
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		accounts := tx.Accounts()
		if err := accounts.LockUser(ctx, userID); err != nil {
			return err
		}
		existing, err := owned(ctx, accounts, userID, acc.ID)
		if err != nil {
			return err
		}
		acc.UserID = existing.UserID
		acc.CreatedAt = existing.CreatedAt

		if err := resolveDefault(ctx, accounts, acc); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			if errors.Is(err, store.ErrDuplicateEntry) {
				return ErrAddressTaken
			}
			return fmt.Errorf("failed to update account: %w", err)
		}
		return ensureDefault(ctx, accounts, acc)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Delete removes an account owned by userID. Deleting an unknown account
// is not an error. When the default goes, the oldest remaining account
// takes over.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		accounts := tx.Accounts()
		if err := accounts.LockUser(ctx, userID); err != nil {
			return err
		}
		if _, err := owned(ctx, accounts, userID, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if err := accounts.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}

		n, err := accounts.CountDefaults(ctx, userID)
		if err != nil || n > 0 {
			return err
		}
		remaining, err := accounts.ListByUser(ctx, userID)
		if err != nil || len(remaining) == 0 {
			return err
		}
		s.logger.Info("Promoting account to default",
			slog.String("user_id", userID),
			slog.String("account_id", remaining[0].ID))
		return accounts.SetDefault(ctx, remaining[0].ID, true)
	})
}

// List returns the accounts of userID, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]*email.Account, error) {
	return s.store.Accounts().ListByUser(ctx, userID)
}

func normalize(acc *email.Account) error {
	acc.Address = strings.TrimSpace(acc.Address)
	acc.DisplayName = strings.TrimSpace(acc.DisplayName)
	acc.SMTPHost = strings.TrimSpace(acc.SMTPHost)
	at := strings.IndexByte(acc.Address, '@')
	if at <= 0 || at == len(acc.Address)-1 || strings.ContainsAny(acc.Address, " <>,;") {
		return ErrInvalidAddress
	}
	if acc.SMTPPort < 0 || acc.SMTPPort > 65535 {
		return fmt.Errorf("account: invalid smtp port %d", acc.SMTPPort)
	}
	return nil
}

func owned(ctx context.Context, accounts store.AccountStore, userID, id string) (*email.Account, error) {
	existing, err := accounts.FindByID(ctx, id)
	if store.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, ErrForbidden
	}
	return existing, nil
}

// resolveDefault settles acc.IsDefault before it is written. A default
// account clears the others; a non-default one is promoted when no other
// account of the user is default.
func resolveDefault(ctx context.Context, accounts store.AccountStore, acc *email.Account) error {
	if acc.IsDefault {
		return accounts.ClearDefault(ctx, acc.UserID, acc.ID)
	}

	n, err := accounts.CountDefaults(ctx, acc.UserID)
	if err != nil {
		return err
	}
	if acc.ID != "" {
		if cur, err := accounts.FindByID(ctx, acc.ID); err == nil && cur.IsDefault {
			n--
		}
	}
	acc.IsDefault = n == 0
	return nil
}

// ensureDefault flags acc when the write left the user without a default.
func ensureDefault(ctx context.Context, accounts store.AccountStore, acc *email.Account) error {
	n, err := accounts.CountDefaults(ctx, acc.UserID)
	if err != nil || n > 0 {
		return err
	}
	acc.IsDefault = true
	return accounts.SetDefault(ctx, acc.ID, true)
}
