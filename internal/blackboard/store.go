package blackboard

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by a Store when nothing was saved for a scope.
var ErrNoSnapshot = errors.New("blackboard: no snapshot for scope")

// Store persists blackboard entries under a scope, usually a tree id.
type Store interface {
	SaveEntries(ctx context.Context, scope string, entries []Entry) error
	LoadEntries(ctx context.Context, scope string) ([]Entry, error)
}

// Save writes the local entries of b to the store.
func Save(ctx context.Context, store Store, scope string, b *Blackboard) error {
	entries, err := b.GetEntries()
	if err != nil {
		return err
	}
	if err := store.SaveEntries(ctx, scope, entries); err != nil {
		return fmt.Errorf("failed to save blackboard %s: %w", scope, err)
	}
	return nil
}

// Load restores entries for scope into b and returns how many were found.
// A missing snapshot is not an error.
func Load(ctx context.Context, store Store, scope string, b *Blackboard) (int, error) {
	entries, err := store.LoadEntries(ctx, scope)
	if errors.Is(err, ErrNoSnapshot) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load blackboard %s: %w", scope, err)
	}
	return len(entries), b.RestoreEntries(entries)
}
