package kafka

import (
	"encoding/json"
	"testing"

	"github.com/ilive/checkout/internal/checkout"
)

func TestUnwrapPayload(t *testing.T) {
	env := checkout.Envelope{
		EventID:   "ev-1",
		EventType: checkout.EventOrderPaid,
		Payload: MustMarshal(checkout.OrderPaidPayload{
			OrderID: "o-1", UserID: "u-1", PaymentMethod: "CREDIT_CARD", TotalCents: 2500,
		}),
	}
	raw := MustMarshal(env)

	var back checkout.Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	p, err := UnwrapPayload[checkout.OrderPaidPayload](back.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if p.OrderID != "o-1" || p.TotalCents != 2500 {
		t.Fatalf("payload round trip: %+v", p)
	}
}

func TestUnwrapPayload_BadPayload(t *testing.T) {
	if _, err := UnwrapPayload[checkout.OrderPaidPayload](json.RawMessage(`"not an object"`)); err == nil {
		t.Fatal("want decode error")
	}
}
