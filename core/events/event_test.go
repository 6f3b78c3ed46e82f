package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/crypto"
)

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	var a, b Recorder
	multi := Multi{&a, nil, &b}
	multi.Emit(TransactionClosed{ID: 3})

	if got := a.Types(); len(got) != 1 || got[0] != TypeTransactionClosed {
		t.Fatalf("first recorder got %v", got)
	}
	if got := b.Types(); len(got) != 1 || got[0] != TypeTransactionClosed {
		t.Fatalf("second recorder got %v", got)
	}
	a.Reset()
	if len(a.Events()) != 0 {
		t.Fatalf("reset did not clear events")
	}
}

func TestSettledEventTypeFollowsOutcome(t *testing.T) {
	released := TransactionSettled{ID: 1, Released: true, Amount: big.NewInt(5)}
	refunded := TransactionSettled{ID: 1, Amount: big.NewInt(5)}
	if released.EventType() != TypeTransactionReleased {
		t.Fatalf("unexpected type %s", released.EventType())
	}
	if refunded.Event().Type != TypeTransactionRefunded {
		t.Fatalf("unexpected type %s", refunded.Event().Type)
	}
}

func TestRenderAttributes(t *testing.T) {
	sender := common.BytesToAddress([]byte{0x01})
	evt := Render(TransactionInitialized{
		ID:       7,
		Sender:   sender,
		Receiver: common.BytesToAddress([]byte{0x02}),
		Asset:    common.BytesToAddress([]byte{0x03}),
		Amount:   big.NewInt(1000),
		UnlockAt: 1900,
	})
	if evt.Attr("id") != "7" || evt.Attr("amount") != "1000" || evt.Attr("unlockAt") != "1900" {
		t.Fatalf("unexpected attributes: %v", evt.Attributes)
	}
	if evt.Attr("sender") != crypto.FormatPrincipal(sender) {
		t.Fatalf("sender not rendered in bech32: %s", evt.Attr("sender"))
	}

	mint := Render(TokenTransfer{To: sender, Amount: nil})
	if _, ok := mint.Attributes["from"]; ok {
		t.Fatalf("mint should not carry a source")
	}
	if mint.Attr("amount") != "0" {
		t.Fatalf("nil amount should render as 0")
	}
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestRenderBareEvent(t *testing.T) {
	evt := Render(bareEvent{})
	if evt.Type != "bare" || evt.Attributes == nil {
		t.Fatalf("unexpected render: %+v", evt)
	}
	if Render(nil) != nil {
		t.Fatalf("nil event should render nil")
	}
}
