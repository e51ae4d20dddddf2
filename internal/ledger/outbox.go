package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tradedesk/internal/events"
	"tradedesk/pkg/db"
)

// outboxPayload is written inside the same transaction as the ledger entry
// and replayed by the dispatcher, so a reader of the transactional code never
// has to infer hidden notification side effects.
type outboxPayload struct {
	Wallet      WalletView `json:"wallet"`
	Transaction EntryView  `json:"transaction"`
}

// WalletPublisher receives committed mutations for best-effort delivery.
type WalletPublisher interface {
	WalletUpdated(ownerID string, wallet, transaction any)
}

// Dispatcher drains the wallet outbox into the event publisher. Delivery is
// asynchronous and best-effort: a publish that finds no live subscribers is
// simply marked dispatched, never retried for that audience.
type Dispatcher struct {
	db        *sql.DB
	publisher WalletPublisher
	interval  time.Duration
	batchSize int
	done      chan struct{}
	stopped   chan struct{}
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(database *db.Database, publisher WalletPublisher, interval time.Duration, batchSize int) *Dispatcher {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		db:        database.DB,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins polling until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.stopped)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := d.DrainOnce(ctx); err != nil {
					log.Printf("[LEDGER] outbox drain error: %v", err)
				} else if n > 0 {
					log.Printf("[LEDGER] dispatched %d wallet event(s)", n)
				}
			case <-ctx.Done():
				return
			case <-d.done:
				return
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	close(d.done)
	<-d.stopped
}

type outboxRow struct {
	id      int64
	userID  string
	payload string
}

// DrainOnce publishes one batch of undispatched rows in commit order and
// marks them dispatched. Exported so tests and the composition root can
// flush synchronously.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, payload
		FROM wallet_outbox
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT ?
	`, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}

	var pending []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.userID, &r.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	dispatched := 0
	for _, r := range pending {
		var payload struct {
			Wallet      json.RawMessage `json:"wallet"`
			Transaction json.RawMessage `json:"transaction"`
		}
		if err := json.Unmarshal([]byte(r.payload), &payload); err != nil {
			// A malformed row would wedge the queue; mark it dispatched and move on.
			log.Printf("[LEDGER] skip outbox row %d: %v", r.id, err)
		} else {
			d.publisher.WalletUpdated(r.userID, payload.Wallet, payload.Transaction)
		}

		if _, err := d.db.ExecContext(ctx, `
			UPDATE wallet_outbox SET dispatched_at = CURRENT_TIMESTAMP WHERE id = ?
		`, r.id); err != nil {
			return dispatched, fmt.Errorf("mark outbox row %d: %w", r.id, err)
		}
		dispatched++
	}
	return dispatched, nil
}

var _ WalletPublisher = (*events.Publisher)(nil)
