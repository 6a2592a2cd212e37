// Package storage defines the transactional contract the election and
// application pipelines demand from a storage driver (see spec §4.7). The
// pipeline never talks to a database directly -- it only ever holds one of
// these two interfaces.
package storage

import (
	"context"

	"github.com/rezkam/jobcore/internal/core"
)

// Reader is the read side of the contract: fetching a job's current state
// and parameters so the election pipeline can make a decision.
type Reader interface {
	GetJob(ctx context.Context, jobID string) (*core.Job, error)
	GetCurrentState(ctx context.Context, jobID string) (core.State, error)
	GetJobParameter(ctx context.Context, jobID, name string) ([]byte, error)
	IsMember(ctx context.Context, setName, value string) (bool, error)
}

// Transaction is the write-only batch of operations the application
// pipeline issues before Commit. All operations may be issued in any order
// before Commit; Commit is the only linearization point. A Transaction
// that is never committed must have no observable effect -- drivers own
// rollback-on-discard.
type Transaction interface {
	SetJobState(jobID string, state core.State) error
	SetJobParameter(jobID, name string, value []byte) error
	AddToSet(setName, value string) error
	RemoveFromSet(setName, value string) error
	AddToList(listName string, value []byte) error
	TrimList(listName string, start, end int) error
	Commit(ctx context.Context) error
	// Discard releases any resources held by the transaction without
	// committing. Safe to call after a successful Commit (no-op).
	Discard(ctx context.Context) error
}

// Store is the full contract a driver implements: Reader plus the ability
// to open a Transaction.
type Store interface {
	Reader
	BeginTransaction(ctx context.Context) (Transaction, error)
}
