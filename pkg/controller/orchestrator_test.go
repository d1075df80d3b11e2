package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/cache"
	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"codeberg.org/opendatahub/odhsync/pkg/result"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const testType = "odhactivitypoi"

type fakeClient struct {
	mu         sync.Mutex
	records    map[string]source.RawPayload
	order      []string
	changed    []string
	deleted    []string
	fetchErr   error
	changedErr error
	since      []time.Time
	afterList  func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: make(map[string]source.RawPayload)}
}

func (c *fakeClient) put(id string, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; !ok {
		c.order = append(c.order, id)
	}
	c.records[id] = source.RawPayload{ID: id, Format: "json", Data: []byte(data)}
}

func (c *fakeClient) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) FetchAll(ctx context.Context, filter source.Filter) ([]source.RawPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	out := make([]source.RawPayload, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	if c.afterList != nil {
		c.afterList()
	}
	return out, nil
}

func (c *fakeClient) FetchOne(ctx context.Context, id string) (source.RawPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return source.RawPayload{}, c.fetchErr
	}
	raw, ok := c.records[id]
	if !ok {
		return source.RawPayload{}, &source.StatusError{StatusCode: 404, URL: "fake/" + id}
	}
	return raw, nil
}

func (c *fakeClient) FetchChangedSince(ctx context.Context, t time.Time) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.since = append(c.since, t)
	if c.changedErr != nil {
		return nil, c.changedErr
	}
	return c.changed, c.fetchErr
}

func (c *fakeClient) FetchDeletedSince(ctx context.Context, t time.Time) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted, c.fetchErr
}

func (c *fakeClient) Close() error { return nil }

// jsonParser decodes canonical entity JSON and fails on anything else.
type jsonParser struct{}

func (jsonParser) Parse(ctx context.Context, raw source.RawPayload, previous *entity.Entity) (*entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal(raw.Data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", raw.ID, err)
	}
	return &e, nil
}

type panicParser struct{}

func (panicParser) Parse(context.Context, source.RawPayload, *entity.Entity) (*entity.Entity, error) {
	panic("boom")
}

func payload(id, shortname string, tagIDs ...string) string {
	data, _ := json.Marshal(map[string]any{
		"Id":        id,
		"Active":    true,
		"Shortname": shortname,
		"TagIds":    tagIDs,
	})
	return string(data)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	orch   *Orchestrator
	client *fakeClient
	store  *store.MemoryStore
	clock  *clock
}

func newFixture(t *testing.T, mutate func(*manifest.ImportSource)) *fixture {
	t.Helper()

	src := &manifest.ImportSource{
		ObjectMeta: metav1.ObjectMeta{Name: "lts-poi"},
		Spec: manifest.ImportSourceSpec{
			Source:     "lts",
			Interface:  "lts.poi",
			EntityType: testType,
			Workers:    2,
		},
	}
	if mutate != nil {
		mutate(src)
	}

	clk := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore()
	mem.SetClock(clk.Now)
	client := newFakeClient()
	logger, _ := zap.NewDevelopment()

	orch, err := NewOrchestrator(src, client, jsonParser{}, Deps{
		Repository:  mem,
		RawStore:    mem,
		Checkpoints: mem,
		Taxonomy: taxonomy.StaticProvider{Tags: []taxonomy.Tag{
			{ID: "hiking", Source: "idm", PublishDataWithTagOn: map[string]bool{"odh.opendata.hub": true}},
			{ID: "internal", Source: "idm", PublishDataWithTagOn: map[string]bool{"odh.opendata.hub": false}},
		}},
		Logger: logger,
		Now:    clk.Now,
	})
	require.NoError(t, err)

	return &fixture{orch: orch, client: client, store: mem, clock: clk}
}

func (f *fixture) get(t *testing.T, id string) *entity.Entity {
	t.Helper()
	e, err := f.store.Get(context.Background(), testType, id)
	require.NoError(t, err)
	return e
}

func TestNewOrchestrator_Validation(t *testing.T) {
	src := &manifest.ImportSource{ObjectMeta: metav1.ObjectMeta{Name: "x"}}
	mem := store.NewMemoryStore()

	_, err := NewOrchestrator(src, newFakeClient(), jsonParser{}, Deps{RawStore: mem})
	assert.Error(t, err)

	_, err = NewOrchestrator(src, newFakeClient(), jsonParser{}, Deps{Repository: mem})
	assert.Error(t, err)

	src.Spec.Mode = "sideways"
	_, err = NewOrchestrator(src, newFakeClient(), jsonParser{}, Deps{Repository: mem, RawStore: mem})
	assert.Error(t, err)

	src.Spec.Mode = ""
	src.Spec.MergeRules = []manifest.MergeRuleConfig{{Name: "x", Type: "unknown"}}
	_, err = NewOrchestrator(src, newFakeClient(), jsonParser{}, Deps{Repository: mem, RawStore: mem})
	assert.Error(t, err)
}

func TestRunSync_CreatesEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "Alpine hike", "hiking"))

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Error)
	assert.Equal(t, []string{"odh.opendata.hub"}, res.PushChannels)

	stored := f.get(t, "A")
	require.NotNil(t, stored)
	require.NotNil(t, stored.FirstImport)
	assert.True(t, stored.FirstImport.Equal(f.clock.Now()))
	assert.Equal(t, []string{"odh.opendata.hub"}, stored.PublishedOn)
	assert.Equal(t, "lts", stored.Source)
	assert.Equal(t, "lts.poi", stored.SyncSourceInterface)
	assert.Equal(t, testType, stored.Type)
	require.NotNil(t, stored.Meta)
	assert.Equal(t, "A", stored.Meta.ID)

	raw := f.store.RawRecords()
	require.Len(t, raw, 1)
	assert.Equal(t, "A", raw[0].SourceID)
	assert.Equal(t, "lts", raw[0].Datasource)
}

func TestRunSync_IdenticalReimport(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "Alpine hike", "hiking"))

	first := f.orch.RunSync(context.Background(), RunOptions{Full: true})
	require.Equal(t, 1, first.Created)

	f.clock.Advance(time.Hour)
	second := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, second.Compared)
	assert.Equal(t, 0, second.ObjectChanged)
	assert.Empty(t, second.Changes)
}

func TestRunSync_FirstImportIsKept(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "Alpine hike"))
	created := f.clock.Now()

	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	f.clock.Advance(24 * time.Hour)
	f.client.put("A", payload("A", "Alpine hike, extended"))
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.ObjectChanged)

	stored := f.get(t, "A")
	assert.True(t, stored.FirstImport.Equal(created))
	assert.True(t, stored.LastChange.Equal(f.clock.Now()))
	assert.Equal(t, "Alpine hike, extended", stored.Shortname)
}

func TestRunSync_IsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("R%d", i)
		data := payload(id, "record "+id)
		if i == 3 {
			data = "not json"
		}
		f.client.put(id, data)
	}

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 1, res.Error)
	assert.Equal(t, 5, res.Created+res.Updated+res.Error)
	assert.Nil(t, f.get(t, "R3"))
	assert.NotNil(t, f.get(t, "R5"))
}

func TestRunSync_RecoversPanics(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.parser = panicParser{}
	f.client.put("A", payload("A", "a"))

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Error)
	assert.Contains(t, res.Exception, "panic")
}

func TestRunSync_PanicKeepsKnownEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a"))
	f.client.put("B", payload("B", "b"))
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	f.orch.parser = panicParser{}
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 2, res.Error)
	assert.Equal(t, 0, res.Updated)
	assert.True(t, f.get(t, "A").Active)
	assert.True(t, f.get(t, "B").Active)
}

func TestRunSync_DisablesVanishedRecords(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"A", "B", "C"} {
		f.client.put(id, payload(id, "record "+id, "hiking"))
	}
	first := f.orch.RunSync(context.Background(), RunOptions{Full: true})
	require.Equal(t, 3, first.Created)

	f.client.remove("B")
	f.client.remove("C")
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 0, res.Error)
	assert.Equal(t, []string{"odh.opendata.hub"}, res.PushChannels)

	a := f.get(t, "A")
	assert.True(t, a.Active)
	assert.Equal(t, []string{"odh.opendata.hub"}, a.PublishedOn)

	for _, id := range []string{"B", "C"} {
		e := f.get(t, id)
		require.NotNil(t, e, id)
		assert.False(t, e.Active, id)
		assert.Empty(t, e.PublishedOn, id)
	}

	again := f.orch.RunSync(context.Background(), RunOptions{Full: true})
	assert.Equal(t, 1, again.Updated, "disabled records are not disabled twice")
}

func TestRunSync_DeletesVanishedRecords(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.Deletion = "hard"
	})
	for _, id := range []string{"A", "B", "C"} {
		f.client.put(id, payload(id, "record "+id))
	}
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	f.client.remove("B")
	f.client.remove("C")
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 2, res.Deleted)
	assert.NotNil(t, f.get(t, "A"))
	assert.Nil(t, f.get(t, "B"))
	assert.Nil(t, f.get(t, "C"))
}

func TestRunSync_EmptySourceSkipsReconciliation(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a"))
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	f.client.remove("A")
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.True(t, res.IsZero())
	assert.True(t, f.get(t, "A").Active)
}

func TestRunSync_LeavesOtherSourcesAlone(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.UpsertCompare(context.Background(), &entity.Entity{
		ID:                  "FOREIGN",
		Type:                testType,
		Active:              true,
		Source:              "dss",
		SyncSourceInterface: "dss.lift",
	}, store.CompareOptions{})
	require.NoError(t, err)

	f.client.put("A", payload("A", "a"))
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.True(t, f.get(t, "FOREIGN").Active)
}

func TestRunSync_FetchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.client.fetchErr = errors.New("connection refused")

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Error)
	assert.Contains(t, res.Exception, "failed to fetch from source")

	last, err := f.store.LastSync(context.Background(), "lts-poi")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestRunSync_Incremental(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.Incremental = true
	})
	f.client.put("A", payload("A", "a"))
	start := f.clock.Now()

	f.orch.RunSync(context.Background(), RunOptions{})
	assert.Empty(t, f.client.since, "first pass without checkpoint is full")

	last, err := f.store.LastSync(context.Background(), "lts-poi")
	require.NoError(t, err)
	assert.True(t, last.Equal(start))

	f.clock.Advance(time.Hour)
	f.client.remove("A")
	f.client.put("B", payload("B", "b"))
	f.client.changed = []string{"B"}
	f.client.deleted = []string{"A"}

	res := f.orch.RunSync(context.Background(), RunOptions{})

	require.Len(t, f.client.since, 1)
	assert.True(t, f.client.since[0].Equal(start))
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.False(t, f.get(t, "A").Active)
	assert.NotNil(t, f.get(t, "B"))
}

func TestRunSync_ExplicitIDs(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a"))
	f.client.put("B", payload("B", "b"))

	res := f.orch.RunSync(context.Background(), RunOptions{IDs: []string{"B"}})

	assert.Equal(t, 1, res.Created)
	assert.Nil(t, f.get(t, "A"))

	last, err := f.store.LastSync(context.Background(), "lts-poi")
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "targeted passes do not move the checkpoint")
}

func TestRunSync_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a"))
	f.orch.RunSync(context.Background(), RunOptions{Full: true})
	f.client.put("B", payload("B", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	f.client.afterList = cancel

	res := f.orch.RunSync(ctx, RunOptions{Full: true})

	assert.Equal(t, 0, res.Created)
	assert.Contains(t, res.Exception, "pass cancelled")
	assert.True(t, f.get(t, "A").Active)
}

func TestRunSync_RejectsConcurrentPass(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.passMu.Lock()
	defer f.orch.passMu.Unlock()

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Error)
	assert.Equal(t, ErrPassRunning.Error(), res.Exception)
}

func TestRunSync_DenyCreate(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.Constraints.DenyCreate = true
	})
	f.client.put("A", payload("A", "a"))

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Error)
	assert.Nil(t, f.get(t, "A"))
}

func TestImportByID_NotFoundDisables(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a", "hiking"))
	created := f.orch.ImportByID(context.Background(), "A", entity.ModeNormal)
	require.Equal(t, 1, created.Created)

	f.client.remove("A")
	res := f.orch.ImportByID(context.Background(), "A", entity.ModeNormal)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Deleted)
	assert.Contains(t, res.Exception, "A not found at source")

	stored := f.get(t, "A")
	require.NotNil(t, stored)
	assert.False(t, stored.Active)
	assert.Empty(t, stored.PublishedOn)
}

func TestImportByID_NotFoundReducedDeletes(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.IDStyle = "upper"
	})
	f.client.put("a1", payload("a1", "a"))

	created := f.orch.ImportByID(context.Background(), "a1", entity.ModeReduced)
	require.Equal(t, 1, created.Created)

	stored := f.get(t, "A1_REDUCED")
	require.NotNil(t, stored)
	assert.Empty(t, stored.PublishedOn)
	assert.True(t, stored.Meta.Reduced)

	f.client.remove("a1")
	res := f.orch.ImportByID(context.Background(), "a1", entity.ModeReduced)

	assert.Equal(t, 1, res.Deleted)
	assert.Nil(t, f.get(t, "A1_REDUCED"))
}

func TestImportByID_FetchError(t *testing.T) {
	f := newFixture(t, nil)
	f.client.fetchErr = errors.New("timeout")

	res := f.orch.ImportByID(context.Background(), "A", entity.ModeNormal)

	assert.Equal(t, 1, res.Error)
	assert.Contains(t, res.Exception, "timeout")
}

func TestImportSingle(t *testing.T) {
	f := newFixture(t, nil)
	raw := source.RawPayload{ID: "X", Format: "json", Data: []byte(payload("X", "x"))}

	res := f.orch.ImportSingle(context.Background(), raw, entity.ModeNormal)

	assert.Equal(t, 1, res.Created)
	assert.NotNil(t, f.get(t, "X"))
}

func TestReconcileDeletions(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"A", "B", "C"} {
		f.client.put(id, payload(id, id))
	}
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	res := f.orch.ReconcileDeletions(context.Background(), []string{"A"}, entity.ModeNormal)

	assert.Equal(t, 2, res.Updated)
	assert.True(t, f.get(t, "A").Active)
	assert.False(t, f.get(t, "B").Active)
	assert.False(t, f.get(t, "C").Active)
}

func TestReconcileDeletions_ModesAreSeparate(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a"))
	f.orch.ImportByID(context.Background(), "A", entity.ModeNormal)
	f.orch.ImportByID(context.Background(), "A", entity.ModeReduced)

	res := f.orch.ReconcileDeletions(context.Background(), []string{"A_REDUCED"}, entity.ModeReduced)
	assert.True(t, res.IsZero())

	res = f.orch.ReconcileDeletions(context.Background(), []string{"A"}, entity.ModeNormal)
	assert.True(t, res.IsZero())
	assert.True(t, f.get(t, "A").Active)
	assert.NotNil(t, f.get(t, "A_REDUCED"))
}

func TestAggregatorCollectsAudit(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.orch.newPass(context.Background(), entity.ModeNormal)
	require.NoError(t, err)

	f.client.put("A", payload("A", "a"))
	raw, err := f.client.FetchOne(context.Background(), "A")
	require.NoError(t, err)

	f.orch.importSingle(context.Background(), p, raw)

	entries := p.agg.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, result.ActionCreate, entries[0].Action)
	assert.Equal(t, "A", entries[0].ID)
}

func TestKeyLocks(t *testing.T) {
	locks := newKeyLocks()

	unlock := locks.Lock("a")
	assert.Equal(t, 1, locks.Len())

	acquired := make(chan struct{})
	go func() {
		release := locks.Lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	other := locks.Lock("b")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the key")
	}

	assert.Eventually(t, func() bool { return locks.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRunSync_ScheduledPassesReconcileDeletions(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("A", payload("A", "a", "hiking"))
	f.client.put("B", payload("B", "b", "hiking"))

	first := f.orch.RunSync(context.Background(), f.orch.DefaultOptions())
	require.Equal(t, 2, first.Created)

	f.clock.Advance(time.Hour)
	f.client.remove("B")
	res := f.orch.RunSync(context.Background(), f.orch.DefaultOptions())

	assert.Empty(t, f.client.since, "scheduled passes of a non incremental source are full")
	assert.Equal(t, 0, res.Error)
	assert.Equal(t, 2, res.Updated)

	b := f.get(t, "B")
	assert.False(t, b.Active)
	assert.Empty(t, b.PublishedOn)
	assert.True(t, f.get(t, "A").Active)
}

func TestRunSync_IncrementalFallsBackToFull(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.Incremental = true
	})
	f.client.changedErr = fmt.Errorf("source fake: %w", source.ErrIncrementalUnsupported)
	f.client.put("A", payload("A", "a"))
	f.client.put("B", payload("B", "b"))
	f.orch.RunSync(context.Background(), f.orch.DefaultOptions())

	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Hour)
		if i == 1 {
			f.client.remove("B")
		}
		res := f.orch.RunSync(context.Background(), f.orch.DefaultOptions())
		assert.Equal(t, 0, res.Error, res.Exception)
		assert.Empty(t, res.Exception)
	}

	assert.Len(t, f.client.since, 2)
	assert.True(t, f.get(t, "A").Active)
	assert.False(t, f.get(t, "B").Active)

	last, err := f.store.LastSync(context.Background(), "lts-poi")
	require.NoError(t, err)
	assert.True(t, last.Equal(f.clock.Now()))
}

func TestRunSync_PeriodicFullPass(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.Incremental = true
		src.Spec.FullSyncEvery = "2h"
	})
	f.client.put("A", payload("A", "a"))
	f.client.put("B", payload("B", "b"))
	f.orch.RunSync(context.Background(), f.orch.DefaultOptions())

	f.clock.Advance(time.Hour)
	f.client.remove("B")
	f.orch.RunSync(context.Background(), f.orch.DefaultOptions())

	require.Len(t, f.client.since, 1, "second pass is incremental")
	assert.True(t, f.get(t, "B").Active)

	f.clock.Advance(time.Hour)
	res := f.orch.RunSync(context.Background(), f.orch.DefaultOptions())

	assert.Len(t, f.client.since, 1, "third pass is full")
	assert.Equal(t, 0, res.Error)
	assert.False(t, f.get(t, "B").Active)

	full, err := f.store.LastSync(context.Background(), "lts-poi/full")
	require.NoError(t, err)
	assert.True(t, full.Equal(f.clock.Now()))
}

func TestRunSync_ParseFailureKeepsResolvedEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("file-1", payload("X", "x", "hiking"))
	f.client.put("file-2", payload("Y", "y", "hiking"))

	first := f.orch.RunSync(context.Background(), RunOptions{Full: true})
	require.Equal(t, 2, first.Created)
	require.NotNil(t, f.get(t, "X"))

	f.clock.Advance(time.Hour)
	f.client.put("file-1", "{not json")
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Error)
	assert.Equal(t, 1, res.Updated)
	for _, c := range res.Changes {
		assert.NotEqual(t, "X", c.EntityID)
	}

	x := f.get(t, "X")
	assert.True(t, x.Active)
	assert.Equal(t, []string{"odh.opendata.hub"}, x.PublishedOn)
}

func TestRunSync_UnresolvedFailureSkipsReconciliation(t *testing.T) {
	f := newFixture(t, nil)
	f.client.put("file-1", payload("X", "x"))
	f.client.put("file-2", payload("Y", "y"))
	start := f.clock.Now()
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	// a fresh orchestrator knows no earlier resolutions
	f.orch.resolved = cache.NewIDMap()
	f.clock.Advance(time.Hour)
	f.client.put("file-1", "{not json")
	f.client.remove("file-2")
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Error)
	assert.Contains(t, res.Exception, "deletion reconciliation skipped")
	assert.True(t, f.get(t, "X").Active)
	assert.True(t, f.get(t, "Y").Active)

	full, err := f.store.LastSync(context.Background(), "lts-poi/full")
	require.NoError(t, err)
	assert.True(t, full.Equal(start), "a pass without reconciliation is not a full pass")
}

func TestRunSync_ReconcileEmpty(t *testing.T) {
	f := newFixture(t, func(src *manifest.ImportSource) {
		src.Spec.ReconcileEmpty = true
	})
	f.client.put("A", payload("A", "a"))
	f.orch.RunSync(context.Background(), RunOptions{Full: true})

	f.client.remove("A")
	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 1, res.Updated)
	assert.False(t, f.get(t, "A").Active)
}

// serialRepository fails the test when two upserts of one id overlap.
type serialRepository struct {
	*store.MemoryStore
	t        *testing.T
	inflight *xsync.Map[string, int]
}

func (r *serialRepository) UpsertCompare(ctx context.Context, e *entity.Entity, opts store.CompareOptions) (store.PersistResult, error) {
	n, _ := r.inflight.Compute(e.ID, func(old int, _ bool) (int, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
	if n > 1 {
		r.t.Errorf("concurrent upserts of %s", e.ID)
	}
	time.Sleep(20 * time.Millisecond)
	defer r.inflight.Compute(e.ID, func(old int, _ bool) (int, xsync.ComputeOp) {
		return old - 1, xsync.UpdateOp
	})
	return r.MemoryStore.UpsertCompare(ctx, e, opts)
}

func TestRunSync_SerialisesByStoredID(t *testing.T) {
	f := newFixture(t, nil)
	repo := &serialRepository{MemoryStore: f.store, t: t, inflight: xsync.NewMap[string, int]()}
	f.orch.deps.Repository = repo

	for i := 1; i <= 4; i++ {
		f.client.put(fmt.Sprintf("file-%d", i), payload("X", fmt.Sprintf("version %d", i)))
	}

	res := f.orch.RunSync(context.Background(), RunOptions{Full: true})

	assert.Equal(t, 0, res.Error)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, res.Updated)
}
