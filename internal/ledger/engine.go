// Package ledger implements atomic wallet balance mutations with an
// append-only audit trail. The ledger is the sole source of truth for
// balances; the real-time channel is a best-effort projection of it.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/pkg/db"
)

// Wallet statuses. Balance mutation is rejected unless the wallet is active.
const (
	StatusActive = "active"
	StatusFrozen = "frozen"
	StatusClosed = "closed"
)

// Ledger entry directions.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletNotActive     = errors.New("wallet is not active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
)

// Wallet holds one user's funds. Balances are stored in integer minor units
// (cents); two-decimal fixed point is exact over arbitrarily long entry chains.
type Wallet struct {
	ID           string
	UserID       string
	Currency     string
	BalanceCents int64
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Balance returns the balance as an exact decimal.
func (w *Wallet) Balance() decimal.Decimal {
	return decimal.New(w.BalanceCents, -2)
}

// View is the JSON shape exposed to API responses and wallet events.
func (w *Wallet) View() WalletView {
	return WalletView{
		ID:       w.ID,
		UserID:   w.UserID,
		Currency: w.Currency,
		Balance:  w.Balance().StringFixed(2),
		Status:   w.Status,
	}
}

// WalletView is the serialized wallet representation.
type WalletView struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Status   string `json:"status"`
}

// Entry is one immutable audit record of a balance mutation.
type Entry struct {
	ID                    string
	WalletID              string
	Direction             string
	AmountCents           int64
	ResultingBalanceCents int64
	Description           string
	Reference             string
	CreatedAt             time.Time
}

// Amount returns the mutation amount as an exact decimal.
func (e *Entry) Amount() decimal.Decimal {
	return decimal.New(e.AmountCents, -2)
}

// View is the JSON shape exposed to API responses and wallet events.
func (e *Entry) View() EntryView {
	return EntryView{
		ID:               e.ID,
		WalletID:         e.WalletID,
		Direction:        e.Direction,
		Amount:           e.Amount().StringFixed(2),
		ResultingBalance: decimal.New(e.ResultingBalanceCents, -2).StringFixed(2),
		Description:      e.Description,
		Reference:        e.Reference,
		CreatedAt:        e.CreatedAt,
	}
}

// EntryView is the serialized ledger entry representation.
type EntryView struct {
	ID               string    `json:"id"`
	WalletID         string    `json:"walletId"`
	Direction        string    `json:"direction"`
	Amount           string    `json:"amount"`
	ResultingBalance string    `json:"resultingBalance"`
	Description      string    `json:"description"`
	Reference        string    `json:"reference"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Engine executes wallet mutations as single atomic units. Concurrent
// mutations of the same wallet are serialized at the persistence layer
// (single-writer pool plus a guarded update), never by in-process assumptions,
// so it stays safe under horizontally scaled deployments.
type Engine struct {
	db *sql.DB
}

// NewEngine creates a ledger engine on top of the shared database.
func NewEngine(database *db.Database) *Engine {
	return &Engine{db: database.DB}
}

// toCents validates the two-decimal fixed-point contract and converts to
// integer minor units.
func toCents(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	cents := amount.Mul(decimal.New(100, 0))
	if !cents.IsInteger() {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// GetOrCreateWallet returns the user's wallet, creating it lazily on first
// reference with a zero balance and active status.
func (e *Engine) GetOrCreateWallet(ctx context.Context, userID, currency string) (*Wallet, error) {
	if w, err := e.getWalletByUser(ctx, userID); err != nil {
		return nil, err
	} else if w != nil {
		return w, nil
	}

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance_cents, status)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, uuid.NewString(), userID, currency, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	w, err := e.getWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

// GetWallet returns a wallet by id.
func (e *Engine) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	return scanWallet(e.db.QueryRowContext(ctx, `
		SELECT id, user_id, currency, balance_cents, status, created_at, updated_at
		FROM wallets WHERE id = ?
	`, walletID))
}

func (e *Engine) getWalletByUser(ctx context.Context, userID string) (*Wallet, error) {
	w, err := scanWallet(e.db.QueryRowContext(ctx, `
		SELECT id, user_id, currency, balance_cents, status, created_at, updated_at
		FROM wallets WHERE user_id = ?
	`, userID))
	if errors.Is(err, ErrWalletNotFound) {
		return nil, nil
	}
	return w, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.BalanceCents, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

// Credit adds amount to the wallet and appends the matching ledger entry.
func (e *Engine) Credit(ctx context.Context, walletID string, amount decimal.Decimal, description, reference string) (*Wallet, *Entry, error) {
	return e.apply(ctx, walletID, DirectionCredit, amount, description, reference)
}

// Debit removes amount from the wallet and appends the matching ledger entry.
// Fails with ErrInsufficientBalance when amount exceeds the current balance.
func (e *Engine) Debit(ctx context.Context, walletID string, amount decimal.Decimal, description, reference string) (*Wallet, *Entry, error) {
	return e.apply(ctx, walletID, DirectionDebit, amount, description, reference)
}

// apply runs one mutation as a single transaction: load wallet, check
// preconditions, guarded balance update, append entry, append outbox row.
// All writes commit or roll back together. The guarded update re-runs the
// attempt when another writer slipped in between load and update, so the
// loser of a race observes the post-update balance and fails its precondition
// instead of overwriting.
func (e *Engine) apply(ctx context.Context, walletID, direction string, amount decimal.Decimal, description, reference string) (*Wallet, *Entry, error) {
	amountCents, err := toCents(amount)
	if err != nil {
		return nil, nil, err
	}

	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		wallet, entry, err := e.applyOnce(ctx, walletID, direction, amountCents, description, reference)
		if err == errConcurrentUpdate && attempt < maxAttempts {
			continue
		}
		return wallet, entry, err
	}
}

var errConcurrentUpdate = errors.New("wallet updated concurrently")

func (e *Engine) applyOnce(ctx context.Context, walletID, direction string, amountCents int64, description, reference string) (*Wallet, *Entry, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	wallet, err := scanWallet(tx.QueryRowContext(ctx, `
		SELECT id, user_id, currency, balance_cents, status, created_at, updated_at
		FROM wallets WHERE id = ?
	`, walletID))
	if err != nil {
		return nil, nil, err
	}
	if wallet.Status != StatusActive {
		return nil, nil, ErrWalletNotActive
	}

	newBalance := wallet.BalanceCents + amountCents
	if direction == DirectionDebit {
		if amountCents > wallet.BalanceCents {
			return nil, nil, ErrInsufficientBalance
		}
		newBalance = wallet.BalanceCents - amountCents
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance_cents = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND balance_cents = ?
	`, newBalance, wallet.ID, StatusActive, wallet.BalanceCents)
	if err != nil {
		return nil, nil, fmt.Errorf("update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, nil, err
	} else if n == 0 {
		return nil, nil, errConcurrentUpdate
	}

	entry := Entry{
		ID:                    uuid.NewString(),
		WalletID:              wallet.ID,
		Direction:             direction,
		AmountCents:           amountCents,
		ResultingBalanceCents: newBalance,
		Description:           description,
		Reference:             reference,
		CreatedAt:             time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (id, wallet_id, direction, amount_cents, resulting_balance_cents, description, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.WalletID, entry.Direction, entry.AmountCents, entry.ResultingBalanceCents,
		entry.Description, entry.Reference, entry.CreatedAt); err != nil {
		return nil, nil, fmt.Errorf("append ledger entry: %w", err)
	}

	wallet.BalanceCents = newBalance
	wallet.UpdatedAt = entry.CreatedAt

	payload, err := json.Marshal(outboxPayload{
		Wallet:      wallet.View(),
		Transaction: entry.View(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_outbox (wallet_id, user_id, kind, payload)
		VALUES (?, ?, ?, ?)
	`, wallet.ID, wallet.UserID, "wallet:update", string(payload)); err != nil {
		return nil, nil, fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return wallet, &entry, nil
}

// Entries returns the wallet's audit trail, newest first.
func (e *Engine) Entries(ctx context.Context, walletID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, wallet_id, direction, amount_cents, resulting_balance_cents,
		       COALESCE(description, ''), COALESCE(reference, ''), created_at
		FROM wallet_ledger
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var en Entry
		if err := rows.Scan(&en.ID, &en.WalletID, &en.Direction, &en.AmountCents,
			&en.ResultingBalanceCents, &en.Description, &en.Reference, &en.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, en)
	}
	return entries, rows.Err()
}

// Freeze suspends mutations on an active wallet.
func (e *Engine) Freeze(ctx context.Context, walletID string) error {
	return e.transition(ctx, walletID, StatusActive, StatusFrozen)
}

// Unfreeze reactivates a frozen wallet.
func (e *Engine) Unfreeze(ctx context.Context, walletID string) error {
	return e.transition(ctx, walletID, StatusFrozen, StatusActive)
}

// Close permanently closes a wallet. Entries are kept; the wallet row is
// never deleted while they exist.
func (e *Engine) Close(ctx context.Context, walletID string) error {
	res, err := e.db.ExecContext(ctx, `
		UPDATE wallets SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status != ?
	`, StatusClosed, walletID, StatusClosed)
	if err != nil {
		return fmt.Errorf("close wallet: %w", err)
	}
	return e.checkTransition(ctx, res, walletID, StatusClosed)
}

func (e *Engine) transition(ctx context.Context, walletID, from, to string) error {
	res, err := e.db.ExecContext(ctx, `
		UPDATE wallets SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, walletID, from)
	if err != nil {
		return fmt.Errorf("transition wallet to %s: %w", to, err)
	}
	return e.checkTransition(ctx, res, walletID, to)
}

func (e *Engine) checkTransition(ctx context.Context, res sql.Result, walletID, to string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	w, err := e.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	return fmt.Errorf("wallet %s is %s, cannot transition to %s", walletID, w.Status, to)
}
