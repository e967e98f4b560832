package store

import (
	"context"

	"taskflow/internal/models"
)

// Store defines the interface for the client's local persistence.
type Store interface {
	// Key/value storage that survives restarts
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error

	// View selections, one per presentation context
	LoadSelection(ctx context.Context, viewContext string) (models.Selection, bool, error)
	SaveSelection(ctx context.Context, viewContext string, sel models.Selection) error

	// Lifecycle
	Close() error
}
