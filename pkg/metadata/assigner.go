package metadata

import (
	"slices"
	"strings"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
)

const DefaultEditor = "importer"

type Assigner struct {
	Licenses LicenseRuleProvider
	// Channels is the global publication allow-list. Empty allows every channel.
	Channels []string
	// AllowedSources restricts publication per entity type to the listed
	// sources. Types without an entry are unrestricted.
	AllowedSources map[string][]string
	Editor         string
	Now            func() time.Time
}

func NewAssigner(licenses LicenseRuleProvider) *Assigner {
	return &Assigner{
		Licenses: licenses,
		Editor:   DefaultEditor,
		Now:      time.Now,
	}
}

// Assign recomputes license, publication channels and meta on e. Meta's
// LastUpdate is refreshed on every call.
func (a *Assigner) Assign(e *entity.Entity, snap *taxonomy.Snapshot, mode entity.SyncMode) *entity.Entity {
	if a.Licenses != nil {
		li := a.Licenses.License(e, mode)
		e.LicenseInfo = &li
	}

	e.PublishedOn = a.PublishedOn(e, snap, mode)

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	editor := a.Editor
	if editor == "" {
		editor = DefaultEditor
	}
	e.Meta = &entity.Meta{
		ID:         e.ID,
		Type:       e.Type,
		Source:     e.Source,
		LastUpdate: now(),
		Reduced:    mode == entity.ModeReduced,
		UpdateInfo: &entity.UpdateInfo{
			UpdatedBy:    editor,
			UpdateSource: e.Source,
		},
	}
	return e
}

// PublishedOn collects the channels enabled by the entity's tags. A channel
// disabled by any tag is never published.
func (a *Assigner) PublishedOn(e *entity.Entity, snap *taxonomy.Snapshot, mode entity.SyncMode) []string {
	if mode == entity.ModeReduced || !e.Active {
		return []string{}
	}
	if allowed, ok := a.allowedSources(e.Type); ok && !containsFold(allowed, e.Source) {
		return []string{}
	}

	enabled := make(map[string]bool)
	blocked := make(map[string]bool)
	for _, id := range e.TagIDs {
		tag, ok := snap.Get(id)
		if !ok {
			continue
		}
		for channel, on := range tag.PublishDataWithTagOn {
			if on {
				enabled[channel] = true
			} else {
				blocked[channel] = true
			}
		}
	}

	out := []string{}
	for channel := range enabled {
		if blocked[channel] {
			continue
		}
		if len(a.Channels) > 0 && !containsFold(a.Channels, channel) {
			continue
		}
		out = append(out, channel)
	}
	slices.Sort(out)
	return out
}

func (a *Assigner) allowedSources(entityType string) ([]string, bool) {
	if allowed, ok := a.AllowedSources[entityType]; ok {
		return allowed, true
	}
	for t, allowed := range a.AllowedSources {
		if strings.EqualFold(t, entityType) {
			return allowed, true
		}
	}
	return nil, false
}
