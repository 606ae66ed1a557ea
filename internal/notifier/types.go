package notifier

import (
	"context"
	"time"
)

type Config struct {
	// Workers bounds concurrent deliveries. 0 means 8.
	Workers int
	// RatePerSec is the shared send rate across all workers. 0 means 20.
	RatePerSec int
}

// RecipientSource lists the chat ids a fan-out addresses.
type RecipientSource interface {
	ListRecipientIDs(ctx context.Context) ([]int64, error)
}

// DeliverFunc performs one delivery attempt to chatID.
type DeliverFunc func(ctx context.Context, chatID int64) error

// Result is the outcome of one fan-out.
type Result struct {
	ID     string
	Name   string
	Sent   int
	Total  int
	Failed []int64
	Took   time.Duration
}
