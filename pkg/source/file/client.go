package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/source"
	"go.uber.org/zap"
)

func init() {
	source.MustRegister("file", New)
}

// Client serves records from a directory holding one <id>.<ext> file per
// record. Used to replay raw record dumps and for local runs.
type Client struct {
	*source.BaseSource

	dir         string
	ext         string
	format      string
	deletedFile string
}

func New(name string, config map[string]any, logger *zap.Logger) (source.Client, error) {
	c := &Client{BaseSource: source.NewBaseSource(name, logger)}
	c.SetConfig(config)

	dir, err := c.GetStringConfig("dir")
	if err != nil {
		return nil, err
	}
	c.dir = dir
	c.format = c.GetStringConfigOr("format", "json")
	c.ext = "." + strings.TrimPrefix(c.GetStringConfigOr("extension", c.format), ".")
	c.deletedFile = c.GetStringConfigOr("deletedFile", "")
	return c, nil
}

func (c *Client) Connect(ctx context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("failed to open source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.dir)
	}
	return nil
}

func (c *Client) FetchAll(ctx context.Context, filter source.Filter) ([]source.RawPayload, error) {
	entries, err := c.list()
	if err != nil {
		return nil, err
	}

	payloads := make([]source.RawPayload, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := c.FetchOne(ctx, e.id)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func (c *Client) FetchOne(ctx context.Context, id string) (source.RawPayload, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return source.RawPayload{}, fmt.Errorf("invalid record id %q", id)
	}
	path := filepath.Join(c.dir, id+c.ext)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return source.RawPayload{}, fmt.Errorf("record %s: %w", id, source.ErrNotFound)
	}
	if err != nil {
		return source.RawPayload{}, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	return source.RawPayload{ID: id, URL: "file://" + path, Format: c.format, Data: data}, nil
}

func (c *Client) FetchChangedSince(ctx context.Context, t time.Time) ([]string, error) {
	entries, err := c.list()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.modTime.After(t) {
			ids = append(ids, e.id)
		}
	}
	return ids, nil
}

// FetchDeletedSince reads ids, one per line, from the configured deleted
// file. The timestamp is ignored.
func (c *Client) FetchDeletedSince(ctx context.Context, t time.Time) ([]string, error) {
	if c.deletedFile == "" {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(c.dir, c.deletedFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open deleted list: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			ids = append(ids, line)
		}
	}
	return ids, sc.Err()
}

func (c *Client) Close() error {
	return nil
}

type fileEntry struct {
	id      string
	modTime time.Time
}

func (c *Client) list() ([]fileEntry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list source directory: %w", err)
	}

	var out []fileEntry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), c.ext) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, fileEntry{
			id:      strings.TrimSuffix(de.Name(), c.ext),
			modTime: info.ModTime(),
		})
	}
	slices.SortFunc(out, func(a, b fileEntry) int { return strings.Compare(a.id, b.id) })
	return out, nil
}
