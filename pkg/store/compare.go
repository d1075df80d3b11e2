package store

import (
	"fmt"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/cache"
	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/result"
)

// prepareUpsert decides what an upsert of next over old writes. write is
// false when compare is on and nothing changed.
func prepareUpsert(
	old, next *entity.Entity,
	opts CompareOptions,
	now time.Time,
) (toWrite *entity.Entity, res PersistResult, write bool, err error) {
	toWrite = next.Clone()

	if toWrite.Meta != nil && opts.Editor != "" {
		toWrite.Meta.UpdateInfo = &entity.UpdateInfo{
			UpdatedBy:    opts.Editor,
			UpdateSource: toWrite.Source,
		}
	}

	if old == nil {
		if opts.Constraints.DenyCreate {
			return nil, PersistResult{Error: 1, ErrorReason: ReasonNotAllowed}, false, nil
		}
		if toWrite.FirstImport == nil {
			t := now
			toWrite.FirstImport = &t
		}
		t := now
		toWrite.LastChange = &t

		res = PersistResult{
			Created:      1,
			PushChannels: toWrite.PublishedOn,
		}
		if opts.Diff {
			res.ObjectChanged = 1
			if opts.CompareImages {
				res.ObjectImageChanged = 1
			}
		}
		return toWrite, res, true, nil
	}

	if opts.Constraints.DenyUpdate {
		return nil, PersistResult{Error: 1, ErrorReason: ReasonNotAllowed}, false, nil
	}

	if old.FirstImport != nil {
		t := *old.FirstImport
		toWrite.FirstImport = &t
	} else if toWrite.FirstImport == nil {
		t := now
		toWrite.FirstImport = &t
	}

	res = PersistResult{
		Updated:      1,
		PushChannels: result.UnionChannels(toWrite.PublishedOn, old.PublishedOn),
	}

	if !opts.Diff {
		t := now
		toWrite.LastChange = &t
		return toWrite, res, true, nil
	}

	if same, err := cache.Unchanged(old, toWrite); err == nil && same {
		res.Compared = 1
		toWrite.LastChange = old.LastChange
		return toWrite, res, false, nil
	}

	diff, err := cache.CalculateDiff(old, toWrite)
	if err != nil {
		return nil, PersistResult{}, false, fmt.Errorf("failed to compare entity %s: %w", next.ID, err)
	}
	res.Compared = 1

	if diff.HasChanges() {
		t := now
		toWrite.LastChange = &t
		res.ObjectChanged = 1
		res.Changes = append(res.Changes, diff.Fields...)
	} else {
		toWrite.LastChange = old.LastChange
	}

	if opts.CompareImages && diff.HasImageChanges() {
		res.ObjectImageChanged = 1
		res.Changes = append(res.Changes, diff.Images...)
	}

	write = diff.HasChanges() || diff.HasImageChanges()
	return toWrite, res, write, nil
}
