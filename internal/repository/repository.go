// Package repository persists purchase sessions.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Repository stores purchase processes. Get returns a copy the caller owns;
// changes become visible only through Save.
type Repository interface {
	Create(ctx context.Context, p *purchase.Process) error
	Get(ctx context.Context, id purchase.SessionID) (*purchase.Process, error)
	// Save writes p only if the stored version still matches p.Version(),
	// then bumps the version on p. A stale copy fails with
	// KindSessionAlreadyProcessed.
	Save(ctx context.Context, p *purchase.Process) error
	// ListStale returns non-terminal sessions last updated before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]purchase.SessionID, error)
}

var nonTerminalStates = []string{
	string(purchase.StateValid),
	string(purchase.StatePending),
	string(purchase.StateProcessing),
}

func errStaleVersion(id purchase.SessionID, version int64) error {
	return purchase.NewError(purchase.KindSessionAlreadyProcessed, "repository.Save",
		fmt.Sprintf("session %s changed since version %d was loaded", id, version))
}
