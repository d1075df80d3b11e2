package controller

import (
	"context"
	"fmt"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/result"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"go.uber.org/zap"
)

// ReconcileDeletions removes every stored entity of this source that is not
// in seen. seen holds stored ids. Sources with hard deletion delete, all
// others disable.
func (o *Orchestrator) ReconcileDeletions(ctx context.Context, seen []string, mode entity.SyncMode) result.SyncResult {
	p, err := o.newPass(ctx, mode)
	if err != nil {
		return result.Errored(err)
	}
	for _, id := range seen {
		p.seen.Mark(id)
	}
	o.reconcileDeletions(ctx, p)
	return p.agg.Result()
}

func (o *Orchestrator) reconcileDeletions(ctx context.Context, p *pass) {
	known, err := o.knownIDs(ctx, p.mode)
	if err != nil {
		err = fmt.Errorf("failed to list known ids: %w", err)
		o.logger.Error("Deletion reconciliation failed", zap.Error(err))
		p.agg.Add(result.Errored(err))
		return
	}

	vanished := p.seen.Missing(known)
	o.logger.Info("Reconciling deletions",
		zap.Int("known", len(known)),
		zap.Int("seen", p.seen.Len()),
		zap.Int("vanished", len(vanished)),
		zap.String("deletion", string(o.deletion)))

	runEach(ctx, o, p, vanished, identity, func(ctx context.Context, id string) result.SyncResult {
		if o.deletion == entity.DeletionHard {
			return o.remove(ctx, p, id)
		}
		return o.disable(ctx, p, id)
	})
}

func (o *Orchestrator) knownIDs(ctx context.Context, mode entity.SyncMode) ([]string, error) {
	var interfaces []string
	if o.spec.Interface != "" {
		interfaces = []string{o.spec.Interface}
	}

	ids, err := o.deps.Repository.ListIDsBySourceInterface(
		ctx,
		o.spec.EntityType,
		[]string{o.spec.Source},
		interfaces,
	)
	if err != nil {
		return nil, err
	}

	reduced := mode == entity.ModeReduced
	out := ids[:0:0]
	for _, id := range ids {
		if entity.IsReducedID(id) == reduced {
			out = append(out, id)
		}
	}
	return out, nil
}

// handleNotFound reacts to a source reporting id as gone.
func (o *Orchestrator) handleNotFound(ctx context.Context, p *pass, id string) result.SyncResult {
	if p.mode != entity.ModeReduced {
		return o.disable(ctx, p, o.storedID(id, p.mode))
	}

	base := o.spec.IDs().Apply(id)
	return result.Merge(
		o.remove(ctx, p, base),
		o.remove(ctx, p, entity.ReducedID(base)),
	)
}

func (o *Orchestrator) remove(ctx context.Context, p *pass, id string) result.SyncResult {
	logger := o.logger.With(zap.String("id", id))
	defer o.entityLocks.Lock(id)()

	res, err := o.deps.Repository.Delete(ctx, o.spec.EntityType, id)
	if err != nil {
		err = fmt.Errorf("failed to delete %s: %w", id, err)
		logger.Error("Delete failed", zap.Error(err))
		p.agg.RecordError(result.ActionDelete, id, err)
		return result.Errored(err)
	}
	if res.NotFound() {
		logger.Debug("Entity already gone")
		return result.Zero()
	}

	logger.Info("Deleted entity")
	p.agg.Record(result.ActionDelete, id)
	return res.ToSyncResult()
}

// disable marks a stored entity inactive and withdraws its publication.
func (o *Orchestrator) disable(ctx context.Context, p *pass, id string) result.SyncResult {
	logger := o.logger.With(zap.String("id", id))
	defer o.entityLocks.Lock(id)()

	old, err := o.deps.Repository.Get(ctx, o.spec.EntityType, id)
	if err != nil {
		err = fmt.Errorf("failed to load %s: %w", id, err)
		logger.Error("Disable failed", zap.Error(err))
		p.agg.RecordError(result.ActionDisable, id, err)
		return result.Errored(err)
	}
	if old == nil {
		logger.Debug("Entity already gone")
		return result.Zero()
	}
	if !old.Active {
		logger.Debug("Entity already disabled")
		return result.Zero()
	}

	next := old.Clone()
	next.Active = false
	o.assigner.Assign(next, p.taxonomy, p.mode)

	opts := o.compareOptions()
	opts.Diff = true
	opts.CompareImages = false
	opts.Constraints = store.Constraints{DenyUpdate: o.spec.Constraints.DenyUpdate}

	res, err := o.deps.Repository.UpsertCompare(ctx, next, opts)
	if err != nil {
		err = fmt.Errorf("failed to disable %s: %w", id, err)
		logger.Error("Disable failed", zap.Error(err))
		p.agg.RecordError(result.ActionDisable, id, err)
		return result.Errored(err)
	}

	out := res.ToSyncResult()
	if res.Error > 0 {
		logger.Warn("Disable rejected", zap.String("reason", res.ErrorReason))
		p.agg.RecordError(result.ActionDisable, id, fmt.Errorf("%s", res.ErrorReason))
		return out
	}

	logger.Info("Disabled entity")
	p.agg.Record(result.ActionDisable, id, result.StateChange(id, "Active", "true", "false"))
	return out
}
