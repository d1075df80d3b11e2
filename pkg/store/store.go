package store

import (
	"context"
	"errors"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/result"
)

const (
	ReasonNotFound   = "Data Not Found"
	ReasonNotAllowed = "Not Allowed"
)

var ErrNotAllowed = errors.New("operation not allowed")

type EntityRepository interface {
	// Get returns nil without error when no entity is stored under id.
	Get(ctx context.Context, entityType, id string) (*entity.Entity, error)
	UpsertCompare(ctx context.Context, e *entity.Entity, opts CompareOptions) (PersistResult, error)
	// Delete reports a missing row through PersistResult.ErrorReason
	// (ReasonNotFound), not as an error.
	Delete(ctx context.Context, entityType, id string) (PersistResult, error)
	ListIDsBySourceInterface(ctx context.Context, entityType string, sources, interfaces []string) ([]string, error)
}

type RawRecordStore interface {
	Insert(ctx context.Context, rec entity.RawRecord) (string, error)
}

type CheckpointStore interface {
	// LastSync returns the zero time when the source never completed a pass.
	LastSync(ctx context.Context, source string) (time.Time, error)
	SaveSync(ctx context.Context, source string, t time.Time) error
}

type Constraints struct {
	DenyCreate bool `json:"denyCreate" yaml:"denyCreate"`
	DenyUpdate bool `json:"denyUpdate" yaml:"denyUpdate"`
}

type CompareOptions struct {
	// Diff enables field level comparison; unchanged rows are not rewritten.
	Diff bool
	// CompareImages counts image gallery changes separately.
	CompareImages bool
	Constraints   Constraints
	Editor        string
}

type PersistResult struct {
	Created            int
	Updated            int
	Deleted            int
	Error              int
	ObjectChanged      int
	ObjectImageChanged int
	Compared           int
	PushChannels       []string
	Changes            []result.Change
	ErrorReason        string
}

func (p PersistResult) NotFound() bool {
	return p.ErrorReason == ReasonNotFound
}

func (p PersistResult) ToSyncResult() result.SyncResult {
	r := result.SyncResult{
		Created:            p.Created,
		Updated:            p.Updated,
		Deleted:            p.Deleted,
		Error:              p.Error,
		ObjectChanged:      p.ObjectChanged,
		ObjectImageChanged: p.ObjectImageChanged,
		Compared:           p.Compared,
		PushChannels:       result.UnionChannels(p.PushChannels),
		Changes:            p.Changes,
	}
	if p.Error > 0 && p.ErrorReason != "" {
		r.Exception = p.ErrorReason
	}
	return r
}
