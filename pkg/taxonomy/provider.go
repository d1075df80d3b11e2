package taxonomy

import (
	"context"
	"fmt"
	"os"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"github.com/goccy/go-yaml"
)

type fileDocument struct {
	Tags []Tag `yaml:"tags"`
}

// FileProvider reads the taxonomy from a YAML document with a top level
// "tags" list. The file is read on every Load.
type FileProvider struct {
	Path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

func (p *FileProvider) Load(ctx context.Context) (*Snapshot, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy file: %w", err)
	}
	defer f.Close()

	var doc fileDocument
	if err := yaml.NewDecoder(f).DecodeContext(ctx, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy file %s: %w", p.Path, err)
	}
	for i, t := range doc.Tags {
		if t.ID == "" {
			return nil, fmt.Errorf("taxonomy file %s: tag %d has no id", p.Path, i)
		}
		if t.Source == "" {
			doc.Tags[i].Source = DefaultSource
		}
	}
	return NewSnapshot(doc.Tags), nil
}

type tagLister interface {
	ListIDsBySourceInterface(ctx context.Context, entityType string, sources, interfaces []string) ([]string, error)
	Get(ctx context.Context, entityType, id string) (*entity.Entity, error)
}

// StoreProvider builds the taxonomy from entities of type "tag" kept in the
// entity repository.
type StoreProvider struct {
	repo tagLister
}

func NewStoreProvider(repo tagLister) *StoreProvider {
	return &StoreProvider{repo: repo}
}

func (p *StoreProvider) Load(ctx context.Context) (*Snapshot, error) {
	ids, err := p.repo.ListIDsBySourceInterface(ctx, "tag", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	tags := make([]Tag, 0, len(ids))
	for _, id := range ids {
		e, err := p.repo.Get(ctx, "tag", id)
		if err != nil {
			return nil, fmt.Errorf("failed to load tag %s: %w", id, err)
		}
		if e == nil {
			continue
		}
		tags = append(tags, tagFromEntity(e))
	}
	return NewSnapshot(tags), nil
}

func tagFromEntity(e *entity.Entity) Tag {
	t := Tag{
		ID:     e.ID,
		Source: e.Source,
		Name:   make(map[string]string),
	}
	for lang, d := range e.Detail {
		t.Name[lang] = d.Title
	}
	if t.Source == "" {
		t.Source = DefaultSource
	}
	if tp := e.Properties.Tag; tp != nil {
		t.Types = tp.Types
		t.Parents = tp.Parents
		t.Codes = tp.Codes
		t.PublishDataWithTagOn = tp.PublishDataWithTagOn
	}
	return t
}
