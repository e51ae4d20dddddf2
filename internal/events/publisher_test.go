package events

import (
	"testing"
)

type recordedCall struct {
	room string
	msg  Message
	all  bool
}

type fakeSink struct {
	calls []recordedCall
}

func (f *fakeSink) ToRoom(room string, msg Message) {
	f.calls = append(f.calls, recordedCall{room: room, msg: msg})
}

func (f *fakeSink) ToAll(msg Message) {
	f.calls = append(f.calls, recordedCall{msg: msg, all: true})
}

func TestPublishWithoutSinkIsSilent(t *testing.T) {
	p := NewPublisher()

	// Must log and drop, never panic: publishing rides on committed operations.
	p.EmitToUser("u1", KindNotification, "x")
	p.Broadcast(KindNotification, "x")
	p.WalletUpdated("u1", nil, nil)
}

func TestTypedWrappersRouteToExpectedRooms(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher()
	p.Attach(sink)

	p.TradeUpdated("u1", TradeCreate, map[string]string{"id": "t1"})
	p.StrategyUpdated("u1", StrategyStarted, nil)
	p.WalletUpdated("u1", nil, nil)
	p.TicketUpdated("42", TicketAssigned, nil)
	p.DashboardUpdated("u1", nil)
	p.Notify([]string{"u1", "u2"}, "hi")

	want := []struct {
		room string
		kind Kind
	}{
		{UserRoom("u1"), KindTradeUpdate},
		{UserRoom("u1"), KindStrategyUpdate},
		{UserRoom("u1"), KindWalletUpdate},
		{TicketRoom("42"), KindTicketUpdate},
		{UserRoom("u1"), KindDashboardUpdate},
		{UserRoom("u1"), KindNotification},
		{UserRoom("u2"), KindNotification},
	}
	if len(sink.calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(sink.calls), len(want))
	}
	for i, w := range want {
		got := sink.calls[i]
		if got.room != w.room || got.msg.Type != w.kind {
			t.Errorf("call %d: room=%s kind=%s, want room=%s kind=%s",
				i, got.room, got.msg.Type, w.room, w.kind)
		}
	}
}

func TestEnvelopesCarryTimestamps(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher()
	p.Attach(sink)

	p.TradeUpdated("u1", TradeDelete, "payload")
	env, ok := sink.calls[0].msg.Data.(TradeEnvelope)
	if !ok {
		t.Fatalf("payload type = %T, want TradeEnvelope", sink.calls[0].msg.Data)
	}
	if env.Action != TradeDelete || env.Trade != "payload" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Fatal("envelope timestamp is zero")
	}

	p.WalletUpdated("u1", "w", "tx")
	wenv, ok := sink.calls[1].msg.Data.(WalletEnvelope)
	if !ok {
		t.Fatalf("payload type = %T, want WalletEnvelope", sink.calls[1].msg.Data)
	}
	if wenv.Wallet != "w" || wenv.Transaction != "tx" || wenv.Timestamp.IsZero() {
		t.Fatalf("envelope = %+v", wenv)
	}
}

func TestBroadcastUsesToAll(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher()
	p.Attach(sink)

	p.Broadcast(KindNotification, "maintenance")
	if len(sink.calls) != 1 || !sink.calls[0].all {
		t.Fatalf("calls = %+v, want one ToAll", sink.calls)
	}
}
