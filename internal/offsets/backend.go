// Package offsets persists the last observed update id per account so
// polling resumes without reprocessing after a restart.
package offsets

import (
	"context"
	"time"
)

// Record is one persisted offset.
type Record struct {
	AccountID    string    `json:"accountId"`
	LastUpdateID int64     `json:"lastUpdateId"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Backend is durable key to integer storage. Save never lowers a stored value.
type Backend interface {
	Load(ctx context.Context, accountID string) (int64, bool, error)
	Save(ctx context.Context, accountID string, updateID int64) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
