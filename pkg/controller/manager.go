package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/config"
	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"codeberg.org/opendatahub/odhsync/pkg/parser"
	"codeberg.org/opendatahub/odhsync/pkg/result"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

var ErrSourceNotFound = errors.New("import source not found")

type activeSource struct {
	name      string
	orch      *Orchestrator
	period    time.Duration
	suspended bool

	mu       sync.Mutex
	manifest *manifest.ImportSource
	// stop ends the periodic loop, nil while no loop runs.
	stop       context.CancelFunc
	lastResult *result.SyncResult
}

func (a *activeSource) snapshot() *manifest.ImportSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest.DeepCopy()
}

func (a *activeSource) last() (result.SyncResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastResult == nil {
		return result.SyncResult{}, false
	}
	return *a.lastResult, true
}

func (a *activeSource) setStop(stop context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		a.stop()
	}
	a.stop = stop
}

func (a *activeSource) cancel() {
	a.setStop(nil)
}

type syncTask struct {
	sourceName string
	opts       RunOptions
}

// Manager owns the orchestrators of all configured import sources and
// schedules their passes.
type Manager struct {
	cfg  *config.Config
	deps Deps
	db   *store.EtcdStore

	sources *xsync.Map[string, *activeSource]
	pending *xsync.Map[string, *pendingIDs]
	updates chan idUpdate
	queue   chan syncTask

	// runCtx is set while Start runs; sources added meanwhile start their
	// loop right away.
	runMu  sync.Mutex
	runCtx context.Context

	shutdownCtx context.Context
	shutdown    context.CancelFunc
	logger      *zap.Logger
}

func NewManager(cfg *config.Config, deps Deps, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}

	queueSize := cfg.Workers.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg,
		deps:        deps,
		sources:     xsync.NewMap[string, *activeSource](),
		pending:     xsync.NewMap[string, *pendingIDs](),
		updates:     make(chan idUpdate, queueSize),
		queue:       make(chan syncTask, queueSize),
		shutdownCtx: ctx,
		shutdown:    cancel,
		logger:      logger,
	}
}

// SetStore attaches the etcd store manifests are loaded from and watched in.
func (m *Manager) SetStore(db *store.EtcdStore) {
	m.db = db
}

// AddSource builds the client, parser and orchestrator of src and replaces
// any source registered under the same name.
func (m *Manager) AddSource(ctx context.Context, src *manifest.ImportSource) error {
	v := &manifest.Validator{ClientTypes: source.List(), ParserTypes: parser.List()}
	if err := v.Validate(src); err != nil {
		return err
	}

	logger := m.logger.With(zap.String("source", src.Name))

	client, err := source.Create(ctx, src.Spec.Client.Type, src.Name, src.Spec.Client.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	p, err := parser.Create(src.Spec.Parser.Type, src.Spec.Parser.Config, logger)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to create parser: %w", err)
	}

	orch, err := NewOrchestrator(src, client, p, m.deps)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	m.register(src, orch)
	return nil
}

func (m *Manager) register(src *manifest.ImportSource, orch *Orchestrator) {
	active := &activeSource{
		name:      src.Name,
		orch:      orch,
		period:    src.Spec.Period(m.cfg.DefaultSyncPeriod),
		suspended: src.Spec.Suspend,
		manifest:  src.DeepCopy(),
	}

	old, loaded := m.sources.LoadAndStore(src.Name, active)
	if loaded {
		m.stopSource(old)
	}

	m.runMu.Lock()
	runCtx := m.runCtx
	m.runMu.Unlock()
	if runCtx != nil {
		m.startLoop(runCtx, active)
	}

	m.logger.Info("Import source registered",
		zap.String("source", src.Name),
		zap.Bool("replaced", loaded),
		zap.Duration("period", active.period))
}

func (m *Manager) RemoveSource(name string) {
	old, ok := m.sources.LoadAndDelete(name)
	if !ok {
		return
	}
	m.stopSource(old)
	m.logger.Info("Import source removed", zap.String("source", name))
}

func (m *Manager) stopSource(a *activeSource) {
	a.cancel()
	if err := a.orch.Close(); err != nil {
		m.logger.Warn("Failed to close client",
			zap.String("source", a.orch.Name()),
			zap.Error(err))
	}
}

// Sources returns a snapshot of all registered manifests sorted by name,
// status included.
func (m *Manager) Sources() []*manifest.ImportSource {
	var out []*manifest.ImportSource
	m.sources.Range(func(_ string, a *activeSource) bool {
		out = append(out, a.snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) Source(name string) (*manifest.ImportSource, bool) {
	a, ok := m.sources.Load(name)
	if !ok {
		return nil, false
	}
	return a.snapshot(), true
}

// LastResult returns the result of the most recent pass of a source.
func (m *Manager) LastResult(name string) (result.SyncResult, bool) {
	a, ok := m.sources.Load(name)
	if !ok {
		return result.SyncResult{}, false
	}
	return a.last()
}

func (m *Manager) LastAudit(name string) ([]result.AuditEntry, error) {
	a, ok := m.sources.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return a.orch.LastAudit(), nil
}

// DefaultOptions returns the options of a scheduled pass of a source.
func (m *Manager) DefaultOptions(name string) (RunOptions, error) {
	a, ok := m.sources.Load(name)
	if !ok {
		return RunOptions{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return a.orch.DefaultOptions(), nil
}

// Trigger runs one pass of a source synchronously.
func (m *Manager) Trigger(ctx context.Context, name string, opts RunOptions) (result.SyncResult, error) {
	a, ok := m.sources.Load(name)
	if !ok {
		return result.SyncResult{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	res := a.orch.RunSync(ctx, opts)
	m.updateStatus(name, res)
	return res, nil
}

// Start runs the periodic loop of every registered source and the queue
// workers until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting controller manager")

	m.runMu.Lock()
	if m.runCtx != nil {
		m.runMu.Unlock()
		return fmt.Errorf("manager already running")
	}
	m.runCtx = ctx
	m.runMu.Unlock()

	m.sources.Range(func(_ string, a *activeSource) bool {
		m.startLoop(ctx, a)
		return true
	})

	workers := m.cfg.Workers.ReconcileWorkers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.queueWorker(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.webhookProcessor(ctx.Done())
	}()

	<-ctx.Done()

	m.runMu.Lock()
	m.runCtx = nil
	m.runMu.Unlock()

	m.sources.Range(func(_ string, a *activeSource) bool {
		a.cancel()
		return true
	})

	wg.Wait()
	m.logger.Info("Controller manager stopped")
	return nil
}

func (m *Manager) startLoop(ctx context.Context, a *activeSource) {
	if a.suspended {
		m.logger.Info("Import source suspended, not scheduling",
			zap.String("source", a.name))
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.setStop(cancel)
	go m.runSyncLoop(loopCtx, a)
}

func (m *Manager) runSyncLoop(ctx context.Context, a *activeSource) {
	name := a.name
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	m.logger.Info("Starting sync loop", zap.String("source", name))

	m.runScheduled(ctx, a)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Sync loop stopped", zap.String("source", name))
			return
		case <-ticker.C:
			m.runScheduled(ctx, a)
		}
	}
}

func (m *Manager) runScheduled(ctx context.Context, a *activeSource) {
	res := a.orch.RunSync(ctx, a.orch.DefaultOptions())
	switch {
	case res.Exception == ErrPassRunning.Error():
		m.logger.Debug("Previous pass still running, skipping tick", zap.String("source", a.name))
		return
	case errors.Is(ctx.Err(), context.Canceled) && res.Processed() == 0:
		return
	}
	m.updateStatus(a.name, res)
}

func (m *Manager) queueWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.queue:
			if _, err := m.Trigger(ctx, task.sourceName, task.opts); err != nil {
				m.logger.Warn("Queued sync skipped",
					zap.String("source", task.sourceName),
					zap.Error(err))
			}
		}
	}
}

// Close stops all sources and releases their clients.
func (m *Manager) Close() error {
	m.shutdown()
	m.sources.Range(func(name string, a *activeSource) bool {
		m.stopSource(a)
		return true
	})
	m.sources.Clear()
	return nil
}
