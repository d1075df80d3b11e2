package controller

import (
	"context"
	"fmt"

	"codeberg.org/opendatahub/odhsync/pkg/cache"
	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/merge"
	"codeberg.org/opendatahub/odhsync/pkg/metadata"
	"codeberg.org/opendatahub/odhsync/pkg/result"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"codeberg.org/opendatahub/odhsync/pkg/tags"
	"go.uber.org/zap"
)

// ImportSingle imports one payload outside of a pass. Failures are reported
// in the result, never returned.
func (o *Orchestrator) ImportSingle(ctx context.Context, raw source.RawPayload, mode entity.SyncMode) result.SyncResult {
	p, err := o.newPass(ctx, mode)
	if err != nil {
		return result.Errored(err)
	}
	runEach(ctx, o, p, []source.RawPayload{raw}, payloadID, func(ctx context.Context, raw source.RawPayload) result.SyncResult {
		return o.importSingle(ctx, p, raw)
	})
	return p.agg.Result()
}

// ImportByID fetches and imports one record. A record the source reports as
// gone is disabled in normal mode and deleted in reduced mode.
func (o *Orchestrator) ImportByID(ctx context.Context, id string, mode entity.SyncMode) result.SyncResult {
	p, err := o.newPass(ctx, mode)
	if err != nil {
		return result.Errored(err)
	}
	runEach(ctx, o, p, []string{id}, identity, func(ctx context.Context, id string) result.SyncResult {
		return o.importByID(ctx, p, id)
	})
	return p.agg.Result()
}

func (o *Orchestrator) newPass(ctx context.Context, mode entity.SyncMode) (*pass, error) {
	snap, err := o.loadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}
	return &pass{
		mode:     mode,
		taxonomy: snap,
		seen:     cache.NewStore(),
		agg:      result.NewAggregator(o.name),
	}, nil
}

func (o *Orchestrator) importByID(ctx context.Context, p *pass, id string) result.SyncResult {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	raw, err := o.client.FetchOne(fetchCtx, id)
	cancel()

	switch {
	case source.IsNotFound(err):
		res := o.handleNotFound(ctx, p, id)
		res.Exception = joinException(res.Exception, fmt.Sprintf("%s not found at source", id))
		return res
	case err != nil:
		err = fmt.Errorf("failed to fetch %s: %w", id, err)
		o.logger.Error("Import failed", zap.String("id", id), zap.Error(err))
		p.agg.RecordError(result.ActionImport, id, err)
		return result.Errored(err)
	}

	if raw.ID == "" {
		raw.ID = id
	}
	return o.importSingle(ctx, p, raw)
}

// importSingle never fails: errors are logged and counted.
func (o *Orchestrator) importSingle(ctx context.Context, p *pass, raw source.RawPayload) result.SyncResult {
	logger := o.logger.With(zap.String("id", raw.ID))

	defer func() {
		if r := recover(); r != nil {
			o.markSeen(p, raw.ID, "", false, logger)
			panic(r)
		}
	}()

	storedID, parsed, res, err := o.importRecord(ctx, p, raw)
	o.markSeen(p, raw.ID, storedID, parsed, logger)

	if err != nil {
		err = fmt.Errorf("failed to import %s: %w", raw.ID, err)
		logger.Error("Import failed", zap.Error(err))
		p.agg.RecordError(result.ActionImport, raw.ID, err)
		return result.Errored(err)
	}

	action := result.ActionUpdate
	switch {
	case res.Error > 0:
		logger.Warn("Import rejected", zap.String("reason", res.Exception))
		p.agg.RecordError(result.ActionImport, storedID, fmt.Errorf("%s", res.Exception))
		return res
	case res.Created > 0:
		action = result.ActionCreate
	case res.Compared > 0 && res.ObjectChanged == 0 && res.ObjectImageChanged == 0:
		action = result.ActionSkip
	}

	logger.Info("Imported record",
		zap.String("storedId", storedID),
		zap.String("action", string(action)),
		zap.Int("changes", len(res.Changes)))
	p.agg.Record(action, storedID, res.Changes...)
	return res
}

// markSeen records the stored id a payload accounts for. A payload that
// failed before parsing falls back to the id it resolved to last time, or to
// the entity stored under its own id.
func (o *Orchestrator) markSeen(p *pass, sourceID, storedID string, parsed bool, logger *zap.Logger) {
	key := o.storedID(sourceID, p.mode)
	if parsed {
		o.resolved.Set(key, storedID)
		p.seen.Mark(storedID)
		return
	}

	prev, ok := o.resolved.Get(key)
	if ok {
		p.seen.Mark(prev)
	}
	if storedID != "" {
		p.seen.Mark(storedID)
	}
	if !ok && storedID == "" {
		logger.Warn("Cannot resolve stored id of failed record")
		p.seen.MarkUnresolved()
	}
}

// importRecord returns the stored id the payload maps to and whether that id
// came from a successful parse. Reads and writes of a stored entity happen
// under its entity lock.
func (o *Orchestrator) importRecord(
	ctx context.Context,
	p *pass,
	raw source.RawPayload,
) (string, bool, result.SyncResult, error) {
	entityType := o.spec.EntityType
	candidate := o.storedID(raw.ID, p.mode)

	unlock := o.entityLocks.Lock(candidate)
	defer func() { unlock() }()

	old, err := o.deps.Repository.Get(ctx, entityType, candidate)
	if err != nil {
		return "", false, result.SyncResult{}, fmt.Errorf("failed to load stored entity: %w", err)
	}

	next, err := o.parser.Parse(ctx, raw, old)
	if err != nil {
		var existing string
		if old != nil {
			existing = candidate
		}
		return existing, false, result.SyncResult{}, fmt.Errorf("failed to parse: %w", err)
	}

	if next.ID == "" {
		next.ID = raw.ID
	}
	next.ID = o.storedID(next.ID, p.mode)
	if next.ID != candidate {
		unlock()
		unlock = o.entityLocks.Lock(next.ID)
		if old, err = o.deps.Repository.Get(ctx, entityType, next.ID); err != nil {
			return next.ID, true, result.SyncResult{}, fmt.Errorf("failed to load stored entity: %w", err)
		}
	}
	o.stampProvenance(next, p.mode)

	mctx := merge.NewContext(ctx, o.spec.Source)
	mctx.Now = o.deps.Now()
	mctx.Location = o.deps.Location
	mctx.Distance = o.deps.Distance

	merged, err := o.merger.Merge(mctx, next, old)
	if err != nil {
		return next.ID, true, result.SyncResult{}, fmt.Errorf("failed to merge: %w", err)
	}

	tags.NewReconciler(p.taxonomy).Resolve(merged, old)
	o.assigner.Assign(merged, p.taxonomy, p.mode)

	rawID, err := o.deps.RawStore.Insert(ctx, o.rawRecord(raw, merged))
	if err != nil {
		return next.ID, true, result.SyncResult{}, fmt.Errorf("failed to store raw record: %w", err)
	}

	persisted, err := o.deps.Repository.UpsertCompare(ctx, merged, o.compareOptions())
	if err != nil {
		return next.ID, true, result.SyncResult{}, fmt.Errorf("failed to persist: %w", err)
	}

	o.logger.Debug("Persisted entity",
		zap.String("id", merged.ID),
		zap.String("rawId", rawID))
	return next.ID, true, persisted.ToSyncResult(), nil
}

func (o *Orchestrator) stampProvenance(e *entity.Entity, mode entity.SyncMode) {
	e.Type = o.spec.EntityType
	if e.Source == "" {
		e.Source = o.spec.Source
	}
	if e.SyncSourceInterface == "" {
		e.SyncSourceInterface = o.spec.Interface
	}
	e.SyncUpdateMode = mode.String()
}

func (o *Orchestrator) rawRecord(raw source.RawPayload, e *entity.Entity) entity.RawRecord {
	rec := entity.RawRecord{
		Datasource:      o.spec.Source,
		SourceInterface: o.spec.Interface,
		SourceID:        raw.ID,
		SourceURL:       raw.URL,
		Type:            o.spec.EntityType,
		Format:          raw.Format,
		License:         o.spec.License,
		ImportedAt:      o.deps.Now(),
		Payload:         raw.Data,
	}
	if rec.License == "" && e.LicenseInfo != nil {
		rec.License = e.LicenseInfo.License
	}
	return rec
}

func (o *Orchestrator) compareOptions() store.CompareOptions {
	return store.CompareOptions{
		Diff:          o.spec.Compare.DiffEnabled(),
		CompareImages: o.spec.Compare.Images,
		Constraints: store.Constraints{
			DenyCreate: o.spec.Constraints.DenyCreate,
			DenyUpdate: o.spec.Constraints.DenyUpdate,
		},
		Editor: metadata.DefaultEditor,
	}
}
