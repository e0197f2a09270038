package store

import (
	"context"

	"github.com/me/reflow/pkg/model"
)

// Store defines the persistence layer for the resource catalog and the
// scene library.
type Store interface {
	// Resource catalog
	PutResource(ctx context.Context, res *model.Resource) error
	GetResource(ctx context.Context, key string) (*model.Resource, error)
	ListResources(ctx context.Context, opts model.ListOptions) ([]*model.Resource, int, error)
	DeleteResource(ctx context.Context, key string) error

	// Scene library
	PutScene(ctx context.Context, sc *model.Scene) error
	GetScene(ctx context.Context, name string) (*model.Scene, error)
	ListScenes(ctx context.Context, opts model.ListOptions) ([]*model.Scene, int, error)
	DeleteScene(ctx context.Context, name string) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
