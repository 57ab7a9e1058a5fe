package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the direction of a ledger transaction.
type OrderType string

const (
	OrderBuy  OrderType = "BUY"
	OrderSell OrderType = "SELL"
)

// MaxLegsEncodedLen bounds the encoded "from" and "to" columns.
const MaxLegsEncodedLen = 1028

// Leg is one party's amount on one side of a transaction.
type Leg struct {
	Username string          `json:"username" validate:"required,max=28"`
	Amount   decimal.Decimal `json:"amount"`
}

// DiffObject is the ordered multi-party cash flow of one transaction side.
type DiffObject []Leg

// Usernames returns the usernames of d in order.
func (d DiffObject) Usernames() []string {
	out := make([]string, len(d))
	for i, l := range d {
		out[i] = l.Username
	}
	return out
}

// Total sums the amounts of d.
func (d DiffObject) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range d {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// Encode serialises d deterministically for the "from"/"to" text columns.
func (d DiffObject) Encode() (string, error) {
	if d == nil {
		d = DiffObject{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("domain: encode legs: %w", err)
	}
	if len(data) > MaxLegsEncodedLen {
		return "", Validationf("encoded legs exceed %d bytes", MaxLegsEncodedLen)
	}
	return string(data), nil
}

// DecodeDiffObject parses a column value produced by DiffObject.Encode.
func DecodeDiffObject(s string) (DiffObject, error) {
	var d DiffObject
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("domain: decode legs: %w", err)
	}
	return d, nil
}

// Transaction is an immutable row of the global transaction log.
type Transaction struct {
	ID          string          `json:"transaction_id"`
	Timestamp   time.Time       `json:"timestamp"`
	OrderType   OrderType       `json:"order_type"`
	Currency    string          `json:"currency"`
	PaidWith    string          `json:"paid_with"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	From        DiffObject      `json:"from"`
	To          DiffObject      `json:"to"`
}

// Parties returns every username named by the transaction, from-side first,
// without duplicates.
func (t Transaction) Parties() []string {
	seen := make(map[string]bool, len(t.From)+len(t.To))
	var out []string
	for _, side := range []DiffObject{t.From, t.To} {
		for _, l := range side {
			if !seen[l.Username] {
				seen[l.Username] = true
				out = append(out, l.Username)
			}
		}
	}
	return out
}

// NewTransaction is the input of a ledger append.
type NewTransaction struct {
	OrderType   OrderType       `json:"order_type" validate:"required,oneof=BUY SELL"`
	Currency    string          `json:"currency" validate:"required,max=5,alphanum"`
	PaidWith    string          `json:"paid_with" validate:"required,max=5,alphanum"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	From        DiffObject      `json:"from" validate:"required,min=1,dive"`
	To          DiffObject      `json:"to" validate:"required,min=1,dive"`
}

// Normalize upper-cases the order type and currency codes.
func (n *NewTransaction) Normalize() {
	n.OrderType = OrderType(strings.ToUpper(strings.TrimSpace(string(n.OrderType))))
	n.Currency = strings.ToUpper(strings.TrimSpace(n.Currency))
	n.PaidWith = strings.ToUpper(strings.TrimSpace(n.PaidWith))
}

// Validate checks the request before any storage access. Party existence is
// checked by the store inside the write transaction.
func (n NewTransaction) Validate() error {
	if err := ValidateStruct(n); err != nil {
		return err
	}
	if !n.OrderAmount.IsPositive() {
		return Validationf("order_amount must be > 0, got %s", n.OrderAmount)
	}
	for _, side := range []struct {
		name string
		legs DiffObject
	}{{"from", n.From}, {"to", n.To}} {
		seen := make(map[string]bool, len(side.legs))
		for _, l := range side.legs {
			if l.Amount.IsNegative() {
				return Validationf("%s leg %q has negative amount %s", side.name, l.Username, l.Amount)
			}
			if seen[l.Username] {
				return Validationf("%s side names %q twice", side.name, l.Username)
			}
			seen[l.Username] = true
		}
	}
	// The pro-rata side needs a positive total to split order_amount.
	prorata, name := n.To, "to"
	if n.OrderType == OrderSell {
		prorata, name = n.From, "from"
	}
	if !prorata.Total().IsPositive() {
		return Validationf("%s side must sum to a positive amount", name)
	}
	if _, err := n.From.Encode(); err != nil {
		return err
	}
	if _, err := n.To.Encode(); err != nil {
		return err
	}
	return nil
}
