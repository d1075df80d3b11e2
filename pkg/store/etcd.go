package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/odhsync.io"

// EtcdStore keeps sync checkpoints and import source manifests in etcd so
// that replicas of odhsyncd share them.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

func NewEtcdStore(endpoints []string, timeout time.Duration) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return NewEtcdStoreFromClient(cli), nil
}

func NewEtcdStoreFromClient(cli *clientv3.Client) *EtcdStore {
	return &EtcdStore{client: cli, prefix: etcdPrefix}
}

func (s *EtcdStore) Client() *clientv3.Client { return s.client }

func (s *EtcdStore) checkpointKey(source string) string {
	return fmt.Sprintf("%s/checkpoints/%s", s.prefix, source)
}

func (s *EtcdStore) sourceKey(name string) string {
	return fmt.Sprintf("%s/sources/%s", s.prefix, name)
}

func (s *EtcdStore) LastSync(ctx context.Context, source string) (time.Time, error) {
	resp, err := s.client.Get(ctx, s.checkpointKey(source))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}
	if len(resp.Kvs) == 0 {
		return time.Time{}, nil
	}

	nanos, err := strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid checkpoint for %s: %w", source, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

func (s *EtcdStore) SaveSync(ctx context.Context, source string, t time.Time) error {
	_, err := s.client.Put(ctx, s.checkpointKey(source), strconv.FormatInt(t.UnixNano(), 10))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", source, err)
	}
	return nil
}

// PutSource stores a raw ImportSource manifest under its name.
func (s *EtcdStore) PutSource(ctx context.Context, name string, manifest []byte) error {
	_, err := s.client.Put(ctx, s.sourceKey(name), string(manifest))
	return err
}

func (s *EtcdStore) ListSources(ctx context.Context) ([][]byte, int64, error) {
	resp, err := s.client.Get(ctx, s.sourceKey(""), clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	var res [][]byte
	for _, kv := range resp.Kvs {
		res = append(res, kv.Value)
	}
	return res, resp.Header.Revision, nil
}

func (s *EtcdStore) WatchSources(ctx context.Context, rev int64) clientv3.WatchChan {
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev))
	}
	return s.client.Watch(ctx, s.sourceKey(""), opts...)
}

func (s *EtcdStore) DeleteSource(ctx context.Context, name string) error {
	_, err := s.client.Delete(ctx, s.sourceKey(name))
	return err
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
