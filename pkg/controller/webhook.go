package controller

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"go.uber.org/zap"
)

const defaultDebounceWindow = 5 * time.Second

// idUpdate is a push notification naming records that changed upstream.
type idUpdate struct {
	sourceName string
	mode       entity.SyncMode
	ids        []string
}

type pendingIDs struct {
	mu    sync.Mutex
	ids   map[entity.SyncMode]map[string]bool
	timer *time.Timer
}

// EnqueueIDs schedules a targeted pass over ids. Notifications for the same
// source arriving within the debounce window are coalesced into one pass per
// mode.
func (m *Manager) EnqueueIDs(sourceName string, mode entity.SyncMode, ids []string) error {
	if _, ok := m.sources.Load(sourceName); !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourceName)
	}
	if len(ids) == 0 {
		return nil
	}

	select {
	case m.updates <- idUpdate{sourceName: sourceName, mode: mode, ids: slices.Clone(ids)}:
		return nil
	case <-m.shutdownCtx.Done():
		return fmt.Errorf("manager is shutting down")
	default:
		return fmt.Errorf("update queue is full")
	}
}

func (m *Manager) debounceWindow() time.Duration {
	if m.cfg.WebhookDebounceWindow > 0 {
		return m.cfg.WebhookDebounceWindow
	}
	return defaultDebounceWindow
}

func (m *Manager) webhookProcessor(done <-chan struct{}) {
	window := m.debounceWindow()

	for {
		select {
		case <-done:
			m.logger.Info("Update processor stopped")
			return
		case u := <-m.updates:
			m.accumulate(u, window)
		}
	}
}

func (m *Manager) accumulate(u idUpdate, window time.Duration) {
	pending, _ := m.pending.LoadOrCompute(u.sourceName, func() (*pendingIDs, bool) {
		return &pendingIDs{ids: make(map[entity.SyncMode]map[string]bool)}, false
	})

	pending.mu.Lock()
	defer pending.mu.Unlock()

	set, ok := pending.ids[u.mode]
	if !ok {
		set = make(map[string]bool)
		pending.ids[u.mode] = set
	}
	for _, id := range u.ids {
		set[id] = true
	}

	if pending.timer != nil {
		pending.timer.Stop()
	}
	pending.timer = time.AfterFunc(window, func() {
		m.flush(u.sourceName)
	})

	m.logger.Debug("Accumulated update",
		zap.String("source", u.sourceName),
		zap.String("mode", u.mode.String()),
		zap.Int("ids", len(u.ids)))
}

func (m *Manager) flush(sourceName string) {
	pending, ok := m.pending.LoadAndDelete(sourceName)
	if !ok {
		return
	}

	pending.mu.Lock()
	tasks := make([]syncTask, 0, len(pending.ids))
	for mode, set := range pending.ids {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		tasks = append(tasks, syncTask{
			sourceName: sourceName,
			opts:       RunOptions{IDs: ids, Mode: mode},
		})
	}
	pending.mu.Unlock()

	for _, task := range tasks {
		m.logger.Info("Flushing updates",
			zap.String("source", sourceName),
			zap.String("mode", task.opts.Mode.String()),
			zap.Int("ids", len(task.opts.IDs)))

		select {
		case m.queue <- task:
		case <-m.shutdownCtx.Done():
			return
		default:
			m.logger.Warn("Queue full, dropping update-triggered sync",
				zap.String("source", sourceName))
		}
	}
}
