package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

const leaderElectionKey = "/odhsync.io/leader"

// Run loads the stored manifests, keeps them in sync with etcd and runs the
// sync loops while this node holds leadership. Without a store it runs the
// loops directly.
func (mgr *Manager) Run(ctx context.Context, nodeName string) error {
	if mgr.db == nil {
		return mgr.Start(ctx)
	}

	rev, err := mgr.loadDatabase(ctx)
	if err != nil {
		return err
	}

	go mgr.runWatchLoop(ctx, rev+1)
	mgr.runLeaderElection(ctx, nodeName)
	return nil
}

func (mgr *Manager) loadDatabase(ctx context.Context) (int64, error) {
	docs, rev, err := mgr.db.ListSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list import sources: %w", err)
	}

	p := manifest.NewParser()
	for _, data := range docs {
		src, err := p.Parse(data)
		if err != nil {
			mgr.logger.Error("Failed to parse stored import source", zap.Error(err))
			continue
		}

		if err := mgr.AddSource(ctx, src); err != nil {
			mgr.logger.Error("Failed to add import source", zap.String("name", src.Name), zap.Error(err))
			continue
		}

		mgr.logger.Info("Loaded import source", zap.String("name", src.Name))
	}

	return rev, nil
}

func (mgr *Manager) runWatchLoop(ctx context.Context, rev int64) {
	for {
		select {
		case <-ctx.Done():
			mgr.logger.Info("Watch loop stopping")
			return
		default:
			wch := mgr.db.WatchSources(ctx, rev)
			for resp := range wch {
				if resp.Canceled {
					if resp.Err() == rpctypes.ErrCompacted {
						rev = resp.CompactRevision
						mgr.logger.Warn("Watch compacted, resetting revision", zap.Int64("rev", rev))
					} else {
						mgr.logger.Error("Watch canceled", zap.Error(resp.Err()))
					}
					break
				}

				for _, ev := range resp.Events {
					rev = ev.Kv.ModRevision + 1
					mgr.handleStoreEvent(ctx, ev)
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (mgr *Manager) handleStoreEvent(ctx context.Context, ev *clientv3.Event) {
	parts := strings.Split(string(ev.Kv.Key), "/")
	name := parts[len(parts)-1]
	logger := mgr.logger.With(zap.String("name", name))

	if ev.Type == mvccpb.DELETE {
		mgr.RemoveSource(name)
		logger.Info("Import source deleted")
		return
	}

	src, err := manifest.NewParser().Parse(ev.Kv.Value)
	if err != nil {
		logger.Error("Failed to parse import source", zap.Error(err))
		return
	}
	if src.Name != name {
		logger.Error("Import source name does not match its key", zap.String("manifestName", src.Name))
		return
	}

	if err := mgr.AddSource(ctx, src); err != nil {
		logger.Error("Failed to add import source", zap.Error(err))
		return
	}

	logger.Info("Import source updated")
}

func (mgr *Manager) runLeaderElection(ctx context.Context, nodeName string) {
	for {
		select {
		case <-ctx.Done():
			mgr.logger.Info("Leader election stopping")
			return
		default:
			session, err := concurrency.NewSession(mgr.db.Client(), concurrency.WithTTL(15))
			if err != nil {
				mgr.logger.Error("Election session failed", zap.Error(err))
				sleep(ctx, 5*time.Second)
				continue
			}

			election := concurrency.NewElection(session, leaderElectionKey)
			if err := election.Campaign(ctx, nodeName); err != nil {
				mgr.logger.Debug("Campaign failed, retrying", zap.Error(err))
				session.Close()
				sleep(ctx, time.Second)
				continue
			}

			mgr.logger.Info("Node acquired leadership", zap.String("node", nodeName))

			runCtx, cancel := context.WithCancel(ctx)

			go func() {
				select {
				case <-session.Done():
					mgr.logger.Warn("Leader session expired, stopping sync loops")
					cancel()
				case <-runCtx.Done():
				}
			}()

			if err := mgr.Start(runCtx); err != nil {
				mgr.logger.Error("Manager stopped with error", zap.Error(err))
			}

			cancel()
			resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = election.Resign(resignCtx)
			resignCancel()
			session.Close()

			mgr.logger.Info("Leadership released")
			sleep(ctx, time.Second)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
