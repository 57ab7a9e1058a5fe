package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ShareScale is the number of decimal places kept when order_amount is split
// between parties; it matches NUMERIC(24,10).
const ShareScale = 10

// MaxDiffEncodedLen bounds the encoded portfolio column.
const MaxDiffEncodedLen = 2056

// CurrencyDelta is a signed change of one currency balance.
type CurrencyDelta struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// PortfolioDiff is the ordered set of balance changes one transaction causes
// for one user. Entries are sorted by currency.
type PortfolioDiff []CurrencyDelta

// Encode serialises d for the portfolio column.
func (d PortfolioDiff) Encode() (string, error) {
	if d == nil {
		d = PortfolioDiff{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("domain: encode portfolio diff: %w", err)
	}
	if len(data) > MaxDiffEncodedLen {
		return "", Validationf("encoded portfolio diff exceeds %d bytes", MaxDiffEncodedLen)
	}
	return string(data), nil
}

// DecodePortfolioDiff parses a column value produced by PortfolioDiff.Encode.
func DecodePortfolioDiff(s string) (PortfolioDiff, error) {
	var d PortfolioDiff
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("domain: decode portfolio diff: %w", err)
	}
	return d, nil
}

// PortfolioUpdate is an immutable per-user record of a balance change.
// An ID of zero marks the empty sentinel returned for users without history.
type PortfolioUpdate struct {
	ID            int64         `json:"portfolio_id"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Diff          PortfolioDiff `json:"portfolio_diff"`
	Timestamp     time.Time     `json:"timestamp"`
	Username      string        `json:"username"`
}

// EmptyPortfolioUpdate is the sentinel for a user with no updates yet.
func EmptyPortfolioUpdate(username string) PortfolioUpdate {
	return PortfolioUpdate{Username: username, Diff: PortfolioDiff{}}
}

// IsEmpty reports whether u is the empty sentinel.
func (u PortfolioUpdate) IsEmpty() bool { return u.ID == 0 }

// Balance is the amount of one currency owned.
type Balance struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Portfolio is a resolved balance sheet sorted by currency.
type Portfolio []Balance

// Amount returns the balance held in currency, zero if absent.
func (p Portfolio) Amount(currency string) decimal.Decimal {
	for _, b := range p {
		if b.Currency == currency {
			return b.Amount
		}
	}
	return decimal.Zero
}

// Equal compares two portfolios numerically.
func (p Portfolio) Equal(o Portfolio) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i].Currency != o[i].Currency || !p[i].Amount.Equal(o[i].Amount) {
			return false
		}
	}
	return true
}

// Fold applies updates to base in increasing portfolio id order and returns
// the resulting portfolio. base and updates are not modified.
func Fold(base Portfolio, updates []PortfolioUpdate) Portfolio {
	ordered := make([]PortfolioUpdate, len(updates))
	copy(ordered, updates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	balances := make(map[string]decimal.Decimal, len(base))
	for _, b := range base {
		balances[b.Currency] = b.Amount
	}
	for _, u := range ordered {
		for _, d := range u.Diff {
			balances[d.Currency] = balances[d.Currency].Add(d.Amount)
		}
	}

	out := make(Portfolio, 0, len(balances))
	for cur, amt := range balances {
		out = append(out, Balance{Currency: cur, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// PortfolioSnapshot is a resolved portfolio together with the last update
// folded into it, so it can be advanced incrementally.
type PortfolioSnapshot struct {
	Username        string    `json:"username"`
	Balances        Portfolio `json:"balances"`
	LastPortfolioID int64     `json:"last_portfolio_id"`
	AsOf            time.Time `json:"as_of"`
}

// Advance folds updates newer than s.LastPortfolioID into a copy of s.
func (s PortfolioSnapshot) Advance(updates []PortfolioUpdate) PortfolioSnapshot {
	var fresh []PortfolioUpdate
	next := s
	for _, u := range updates {
		if u.ID <= s.LastPortfolioID {
			continue
		}
		fresh = append(fresh, u)
		if u.ID > next.LastPortfolioID {
			next.LastPortfolioID = u.ID
			next.AsOf = u.Timestamp
		}
	}
	next.Balances = Fold(s.Balances, fresh)
	return next
}

// Apportion computes one PortfolioUpdate per party of t, in the order of
// t.Parties(). IDs are left zero for the store to assign.
//
// BUY: every from-leg pays its amount of PaidWith and the to-legs receive
// OrderAmount of Currency pro rata to their amounts. SELL mirrors it: the
// from-legs give OrderAmount of Currency pro rata and every to-leg receives
// its amount of PaidWith. The last pro-rata leg absorbs rounding so shares
// always sum to OrderAmount.
func Apportion(t Transaction) []PortfolioUpdate {
	deltas := make(map[string]map[string]decimal.Decimal)
	add := func(user, currency string, amt decimal.Decimal) {
		if deltas[user] == nil {
			deltas[user] = make(map[string]decimal.Decimal, 2)
		}
		deltas[user][currency] = deltas[user][currency].Add(amt)
	}

	switch t.OrderType {
	case OrderSell:
		for user, share := range prorata(t.From, t.OrderAmount) {
			add(user, t.Currency, share.Neg())
		}
		for _, l := range t.To {
			add(l.Username, t.PaidWith, l.Amount)
		}
	default:
		for _, l := range t.From {
			add(l.Username, t.PaidWith, l.Amount.Neg())
		}
		for user, share := range prorata(t.To, t.OrderAmount) {
			add(user, t.Currency, share)
		}
	}

	parties := t.Parties()
	out := make([]PortfolioUpdate, 0, len(parties))
	for _, user := range parties {
		diff := make(PortfolioDiff, 0, len(deltas[user]))
		for cur, amt := range deltas[user] {
			diff = append(diff, CurrencyDelta{Currency: cur, Amount: amt})
		}
		sort.Slice(diff, func(i, j int) bool { return diff[i].Currency < diff[j].Currency })
		out = append(out, PortfolioUpdate{
			TransactionID: t.ID,
			Diff:          diff,
			Timestamp:     t.Timestamp,
			Username:      user,
		})
	}
	return out
}

// prorata splits total across legs proportionally to their amounts. The
// last leg with a positive amount absorbs rounding; zero legs get zero.
func prorata(legs DiffObject, total decimal.Decimal) map[string]decimal.Decimal {
	shares := make(map[string]decimal.Decimal, len(legs))
	weight := legs.Total()
	if len(legs) == 0 || !weight.IsPositive() {
		return shares
	}
	last := -1
	for i, l := range legs {
		if l.Amount.IsPositive() {
			last = i
		}
	}
	allocated := decimal.Zero
	for i, l := range legs {
		switch {
		case !l.Amount.IsPositive():
			shares[l.Username] = decimal.Zero
		case i == last:
			shares[l.Username] = total.Sub(allocated)
		default:
			share := total.Mul(l.Amount).DivRound(weight, ShareScale)
			shares[l.Username] = share
			allocated = allocated.Add(share)
		}
	}
	return shares
}
