package domain

import (
	"errors"
	"strings"
	"testing"
)

func validRequest() NewTransaction {
	return NewTransaction{
		OrderType:   OrderBuy,
		Currency:    "BTC",
		PaidWith:    "USD",
		OrderAmount: d("200"),
		From:        legs("marcus254", "200"),
		To:          legs("sheldon256", "200"),
	}
}

func TestNewTransaction_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewTransaction)
		ok     bool
	}{
		{"valid", func(*NewTransaction) {}, true},
		{"bad order type", func(n *NewTransaction) { n.OrderType = "HOLD" }, false},
		{"zero amount", func(n *NewTransaction) { n.OrderAmount = d("0") }, false},
		{"negative amount", func(n *NewTransaction) { n.OrderAmount = d("-1") }, false},
		{"missing currency", func(n *NewTransaction) { n.Currency = "" }, false},
		{"long currency", func(n *NewTransaction) { n.Currency = "BITCOIN" }, false},
		{"empty from", func(n *NewTransaction) { n.From = DiffObject{} }, false},
		{"negative leg", func(n *NewTransaction) { n.From = legs("marcus254", "-1") }, false},
		{"duplicate leg", func(n *NewTransaction) { n.To = legs("a", "1", "a", "2") }, false},
		{"zero pro-rata side", func(n *NewTransaction) { n.To = legs("sheldon256", "0") }, false},
		{"sell checks from side", func(n *NewTransaction) {
			n.OrderType = OrderSell
			n.From = legs("marcus254", "0")
		}, false},
		{"oversized legs", func(n *NewTransaction) {
			var many DiffObject
			for i := 0; i < 60; i++ {
				many = append(many, Leg{Username: strings.Repeat("x", 20) + string(rune('a'+i%26)) + string(rune('a'+i/26)), Amount: d("1")})
			}
			n.To = many
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestNewTransaction_Normalize(t *testing.T) {
	req := validRequest()
	req.OrderType = " buy "
	req.Currency = "btc"
	req.Normalize()
	if req.OrderType != OrderBuy || req.Currency != "BTC" {
		t.Errorf("Normalize() = %q %q", req.OrderType, req.Currency)
	}
}

func TestTransaction_Parties(t *testing.T) {
	tx := Transaction{From: legs("a", "1", "b", "1"), To: legs("b", "1", "c", "1")}
	got := strings.Join(tx.Parties(), ",")
	if got != "a,b,c" {
		t.Errorf("Parties() = %s, want a,b,c", got)
	}
}

func TestUnknownPartyError(t *testing.T) {
	err := error(&UnknownPartyError{Usernames: []string{"ghost"}})
	if !errors.Is(err, ErrUnknownParty) {
		t.Fatal("UnknownPartyError does not match ErrUnknownParty")
	}
	if Kind(err) != "unknown_party" {
		t.Errorf("Kind() = %q", Kind(err))
	}
}
