package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/cache"
	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"codeberg.org/opendatahub/odhsync/pkg/merge"
	"codeberg.org/opendatahub/odhsync/pkg/metadata"
	"codeberg.org/opendatahub/odhsync/pkg/metrics"
	"codeberg.org/opendatahub/odhsync/pkg/parser"
	"codeberg.org/opendatahub/odhsync/pkg/result"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
	"go.uber.org/zap"
)

const (
	defaultWorkers       = 4
	defaultFetchTimeout  = 5 * time.Minute
	defaultFullSyncEvery = 24 * time.Hour
)

var ErrPassRunning = errors.New("a sync pass is already running for this source")

// Deps are the collaborators shared by the orchestrators of all sources.
type Deps struct {
	Repository store.EntityRepository
	RawStore   store.RawRecordStore
	// Checkpoints is optional; without it incremental passes need an
	// explicit Since.
	Checkpoints store.CheckpointStore
	// Taxonomy is loaded once per pass. A nil provider yields an empty
	// snapshot.
	Taxonomy taxonomy.Provider
	Licenses metadata.LicenseRuleProvider
	// Channels is the global publication allow-list.
	Channels       []string
	AllowedSources map[string][]string
	Location       merge.LocationResolver
	Distance       merge.DistanceCalculator
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	Now            func() time.Time
}

// RunOptions selects what one pass fetches. The zero value is a scheduled
// pass: full, unless the source is incremental and its last full pass is
// recent enough, in which case only changes since the checkpoint are fetched.
type RunOptions struct {
	// IDs restricts the pass to the given source ids.
	IDs []string
	// Since overrides the stored checkpoint.
	Since time.Time
	Mode  entity.SyncMode
	// Full fetches every record and reconciles deletions afterwards.
	Full bool
}

// Orchestrator drives sync passes for one import source.
type Orchestrator struct {
	name     string
	spec     manifest.ImportSourceSpec
	client   source.Client
	parser   parser.Parser
	merger   *merge.Merger
	assigner *metadata.Assigner
	deps     Deps

	mode         entity.SyncMode
	deletion     entity.DeletionMode
	workers      int
	fetchTimeout time.Duration
	fullEvery    time.Duration

	// locks serialises work per dispatched id, entityLocks per stored
	// entity. Entity locks are only taken while holding a dispatch lock.
	locks       *keyLocks
	entityLocks *keyLocks
	resolved    *cache.IDMap
	passMu      sync.Mutex
	logger      *zap.Logger

	auditMu   sync.RWMutex
	lastAudit []result.AuditEntry
}

func NewOrchestrator(
	src *manifest.ImportSource,
	client source.Client,
	p parser.Parser,
	deps Deps,
) (*Orchestrator, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("entity repository is required")
	}
	if deps.RawStore == nil {
		return nil, fmt.Errorf("raw record store is required")
	}

	mode, err := src.Spec.SyncMode()
	if err != nil {
		return nil, err
	}
	deletion, err := src.Spec.DeletionMode()
	if err != nil {
		return nil, err
	}

	merger, err := merge.NewMerger(src.Spec.MergeRules)
	if err != nil {
		return nil, fmt.Errorf("failed to create merger: %w", err)
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Licenses == nil {
		deps.Licenses = metadata.DefaultRuleTable("")
	}

	assigner := metadata.NewAssigner(deps.Licenses)
	assigner.Channels = deps.Channels
	assigner.AllowedSources = deps.AllowedSources
	assigner.Now = deps.Now

	workers := src.Spec.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Orchestrator{
		name:         src.Name,
		spec:         src.Spec,
		client:       client,
		parser:       p,
		merger:       merger,
		assigner:     assigner,
		deps:         deps,
		mode:         mode,
		deletion:     deletion,
		workers:      workers,
		fetchTimeout: src.Spec.Timeout(defaultFetchTimeout),
		fullEvery:    src.Spec.FullSyncInterval(defaultFullSyncEvery),
		locks:        newKeyLocks(),
		entityLocks:  newKeyLocks(),
		resolved:     cache.NewIDMap(),
		logger: deps.Logger.With(
			zap.String("source", src.Name),
			zap.String("interface", src.Spec.Interface),
		),
	}, nil
}

func (o *Orchestrator) Name() string {
	return o.name
}

// DefaultOptions returns the options of a scheduled pass.
func (o *Orchestrator) DefaultOptions() RunOptions {
	return RunOptions{Mode: o.mode}
}

// LastAudit returns the audit trail of the most recent RunSync.
func (o *Orchestrator) LastAudit() []result.AuditEntry {
	o.auditMu.RLock()
	defer o.auditMu.RUnlock()
	return o.lastAudit
}

func (o *Orchestrator) Close() error {
	return o.client.Close()
}

// pass is the state local to one RunSync call.
type pass struct {
	mode     entity.SyncMode
	taxonomy *taxonomy.Snapshot
	seen     *cache.Store
	agg      *result.Aggregator
}

// RunSync runs one pass and returns its merged result. It never returns an
// error: fetch failures become a result with Error=1.
func (o *Orchestrator) RunSync(ctx context.Context, opts RunOptions) result.SyncResult {
	if !o.passMu.TryLock() {
		return result.Errored(ErrPassRunning)
	}
	defer o.passMu.Unlock()

	start := o.deps.Now()
	logger := o.logger.With(zap.String("mode", opts.Mode.String()))
	logger.Info("Starting sync pass",
		zap.Int("ids", len(opts.IDs)),
		zap.Bool("full", opts.Full))

	res, audit := o.runPass(ctx, opts, start, logger)

	o.auditMu.Lock()
	o.lastAudit = audit
	o.auditMu.Unlock()

	duration := o.deps.Now().Sub(start)
	o.deps.Metrics.ObservePass(o.name, res, duration)
	logger.Info("Sync pass completed",
		zap.Duration("duration", duration),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
		zap.Int("errors", res.Error),
		zap.Int("changed", res.ObjectChanged))
	return res
}

func (o *Orchestrator) runPass(
	ctx context.Context,
	opts RunOptions,
	start time.Time,
	logger *zap.Logger,
) (result.SyncResult, []result.AuditEntry) {
	snap, err := o.loadTaxonomy(ctx)
	if err != nil {
		logger.Error("Failed to load taxonomy", zap.Error(err))
		return result.Errored(err), nil
	}

	p := &pass{
		mode:     opts.Mode,
		taxonomy: snap,
		seen:     cache.NewStore(),
		agg:      result.NewAggregator(o.name),
	}

	var since *time.Time
	if len(opts.IDs) == 0 && !opts.Full {
		since = o.since(ctx, opts, logger)
	}

	var (
		fetchErr   error
		full       bool
		reconciled bool
	)
	switch {
	case len(opts.IDs) > 0:
		runEach(ctx, o, p, opts.IDs, identity, func(ctx context.Context, id string) result.SyncResult {
			return o.importByID(ctx, p, id)
		})
	case since != nil:
		fetchErr = o.runIncremental(ctx, p, *since, logger)
		if errors.Is(fetchErr, source.ErrIncrementalUnsupported) {
			logger.Info("Source cannot list changes, running full pass")
			full = true
			reconciled, fetchErr = o.runFull(ctx, p, logger)
		}
	default:
		full = true
		reconciled, fetchErr = o.runFull(ctx, p, logger)
	}

	if fetchErr != nil {
		logger.Error("Failed to fetch from source", zap.Error(fetchErr))
		return result.Errored(fmt.Errorf("failed to fetch from source: %w", fetchErr)), p.agg.Entries()
	}

	res := p.agg.Result()
	if err := ctx.Err(); err != nil {
		logger.Warn("Sync pass cancelled, returning partial result", zap.Error(err))
		res.Exception = joinException(res.Exception, "pass cancelled: "+err.Error())
		return res, p.agg.Entries()
	}
	if n := p.seen.Unresolved(); full && n > 0 && !reconciled {
		res.Exception = joinException(res.Exception,
			fmt.Sprintf("deletion reconciliation skipped: %d records could not be resolved to a stored id", n))
	}

	if len(opts.IDs) == 0 && o.deps.Checkpoints != nil {
		key := o.checkpointKey(opts.Mode)
		if err := o.deps.Checkpoints.SaveSync(ctx, key, start); err != nil {
			logger.Warn("Failed to save checkpoint", zap.Error(err))
		}
		if reconciled {
			if err := o.deps.Checkpoints.SaveSync(ctx, key+fullSuffix, start); err != nil {
				logger.Warn("Failed to save full sync checkpoint", zap.Error(err))
			}
		}
	}
	return res, p.agg.Entries()
}

// runFull imports every listed record and reports whether deletions were
// reconciled afterwards.
func (o *Orchestrator) runFull(ctx context.Context, p *pass, logger *zap.Logger) (bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	payloads, err := o.client.FetchAll(fetchCtx, source.Filter{})
	cancel()
	if err != nil {
		return false, err
	}
	logger.Info("Fetched from source", zap.Int("records", len(payloads)))

	runEach(ctx, o, p, payloads, payloadID, func(ctx context.Context, raw source.RawPayload) result.SyncResult {
		return o.importSingle(ctx, p, raw)
	})

	switch {
	case ctx.Err() != nil:
		return false, nil
	case len(payloads) == 0 && !o.spec.ReconcileEmpty:
		logger.Warn("Source returned no records, skipping deletion reconciliation")
		return false, nil
	case p.seen.Unresolved() > 0:
		logger.Warn("Records failed before their stored id was known, skipping deletion reconciliation",
			zap.Int("unresolved", p.seen.Unresolved()))
		return false, nil
	}
	o.reconcileDeletions(ctx, p)
	return true, nil
}

func (o *Orchestrator) runIncremental(ctx context.Context, p *pass, since time.Time, logger *zap.Logger) error {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	changed, err := o.client.FetchChangedSince(fetchCtx, since)
	cancel()
	if err != nil {
		return err
	}

	fetchCtx, cancel = context.WithTimeout(ctx, o.fetchTimeout)
	deleted, err := o.client.FetchDeletedSince(fetchCtx, since)
	cancel()
	if err != nil {
		return err
	}

	logger.Info("Fetched changes from source",
		zap.Time("since", since),
		zap.Int("changed", len(changed)),
		zap.Int("deleted", len(deleted)))

	runEach(ctx, o, p, changed, identity, func(ctx context.Context, id string) result.SyncResult {
		return o.importByID(ctx, p, id)
	})

	runEach(ctx, o, p, deleted, identity, func(ctx context.Context, id string) result.SyncResult {
		return o.handleNotFound(ctx, p, id)
	})
	return nil
}

// since returns the watermark of an incremental pass, or nil for a full one.
func (o *Orchestrator) since(ctx context.Context, opts RunOptions, logger *zap.Logger) *time.Time {
	if !opts.Since.IsZero() {
		t := opts.Since
		return &t
	}
	if !o.spec.Incremental || o.deps.Checkpoints == nil {
		return nil
	}

	key := o.checkpointKey(opts.Mode)
	last, err := o.deps.Checkpoints.LastSync(ctx, key)
	if err != nil {
		logger.Warn("Failed to read checkpoint, running full pass", zap.Error(err))
		return nil
	}
	if last.IsZero() {
		return nil
	}

	full, err := o.deps.Checkpoints.LastSync(ctx, key+fullSuffix)
	if err != nil {
		logger.Warn("Failed to read full sync checkpoint, running full pass", zap.Error(err))
		return nil
	}
	if o.deps.Now().Sub(full) >= o.fullEvery {
		logger.Info("Full pass due", zap.Time("lastFull", full))
		return nil
	}
	return &last
}

const fullSuffix = "/full"

func (o *Orchestrator) checkpointKey(mode entity.SyncMode) string {
	if mode == entity.ModeReduced {
		return o.name + "/" + mode.String()
	}
	return o.name
}

func (o *Orchestrator) loadTaxonomy(ctx context.Context) (*taxonomy.Snapshot, error) {
	if o.deps.Taxonomy == nil {
		return taxonomy.NewSnapshot(nil), nil
	}
	snap, err := o.deps.Taxonomy.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	return snap, nil
}

func (o *Orchestrator) storedID(id string, mode entity.SyncMode) string {
	return entity.StoredID(id, o.spec.IDs(), mode)
}

func identity(id string) string { return id }

func payloadID(p source.RawPayload) string { return p.ID }

func joinException(a, b string) string {
	return result.Merge(result.SyncResult{Exception: a}, result.SyncResult{Exception: b}).Exception
}
