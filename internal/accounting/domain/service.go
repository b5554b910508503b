package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrUnavailable covers transport failures, timeouts and 5xx answers.
	// The caller cannot know whether the credit landed.
	ErrUnavailable = errors.New("accounting_unavailable")
	// ErrRejected is a definitive 4xx refusal. The credit did not land.
	ErrRejected = errors.New("accounting_rejected")
)

// CreditRequest grants credits to a virtual lab's balance. Reference is the
// caller's idempotency key, one per usage row.
type CreditRequest struct {
	VirtualLabID snowflake.ID
	UserID       snowflake.ID
	Amount       int64
	Reference    string
	ExpiresAt    time.Time
}

// Transaction is the accounting system's record of a landed credit.
type Transaction struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

type Service interface {
	Credit(ctx context.Context, req CreditRequest) (*Transaction, error)
}
