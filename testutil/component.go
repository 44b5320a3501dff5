package testutil

import (
	"context"

	"github.com/kbukum/filestore/component"
)

// TestComponent is a component.Component with test-only state control.
type TestComponent interface {
	component.Component

	// Reset returns the component to its initial state between test cases.
	Reset(ctx context.Context) error

	// Snapshot captures state that Restore can later reapply.
	Snapshot(ctx context.Context) (interface{}, error)

	// Restore reapplies a value returned by Snapshot.
	Restore(ctx context.Context, snapshot interface{}) error
}
