package ledger

import (
	"context"
	"testing"
	"time"
)

type capturingPublisher struct {
	owners []string
}

func (p *capturingPublisher) WalletUpdated(ownerID string, wallet, transaction any) {
	p.owners = append(p.owners, ownerID)
}

func TestOutboxDrainPublishesCommittedMutations(t *testing.T) {
	e, database := newTestEngine(t)
	ctx := context.Background()
	w := mustWallet(t, e, "user-1")

	if _, _, err := e.Credit(ctx, w.ID, dec("100.00"), "deposit", "r1"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, _, err := e.Debit(ctx, w.ID, dec("25.00"), "withdrawal", "r2"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	pub := &capturingPublisher{}
	d := NewDispatcher(database, pub, time.Second, 10)

	n, err := d.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("dispatched = %d, want 2", n)
	}
	if len(pub.owners) != 2 || pub.owners[0] != "user-1" || pub.owners[1] != "user-1" {
		t.Fatalf("published owners = %v", pub.owners)
	}

	// Already-dispatched rows are not replayed.
	n, err = d.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("second DrainOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("second drain dispatched = %d, want 0", n)
	}
}

func TestFailedMutationLeavesNoOutboxRow(t *testing.T) {
	e, database := newTestEngine(t)
	ctx := context.Background()
	w := mustWallet(t, e, "user-1")

	if _, _, err := e.Debit(ctx, w.ID, dec("10.00"), "", ""); err == nil {
		t.Fatal("debit on empty wallet succeeded")
	}

	pub := &capturingPublisher{}
	d := NewDispatcher(database, pub, time.Second, 10)
	n, err := d.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if n != 0 || len(pub.owners) != 0 {
		t.Fatalf("rolled-back mutation reached the outbox: n=%d owners=%v", n, pub.owners)
	}
}
