package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a row of the global user directory.
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
}

// NewUserID returns a fresh user identifier safe for use in view names.
func NewUserID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "_")
}

// TransactionViewName is the per-user view over the transaction log.
func TransactionViewName(userID string) string {
	return "user_" + userID + "_transactions"
}

// NotificationViewName is the per-user view over committed-transaction
// notifications.
func NotificationViewName(userID string) string {
	return "user_" + userID + "_notifications"
}

// Notification is a row of a user's notification view.
type Notification struct {
	PortfolioID   int64     `json:"portfolio_id"`
	TransactionID string    `json:"transaction_id"`
	Event         EventType `json:"event"`
	OrderType     OrderType `json:"order_type"`
	Currency      string    `json:"currency"`
	PaidWith      string    `json:"paid_with"`
	CreatedAt     time.Time `json:"created_at"`
}
