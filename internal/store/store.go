package store

import (
	"context"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Store defines the persistence interface for the playback journal.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, session model.SessionID, query model.RunQuery) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error

	// Events
	AppendEvent(ctx context.Context, ev *model.Event) error
	ListEvents(ctx context.Context, runID string) ([]model.Event, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
