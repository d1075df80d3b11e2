package merge

import (
	"fmt"
	"slices"
	"strings"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
)

// Rule folds data from the previously stored entity into the freshly parsed
// one. old is nil for new entities and must never be modified.
type Rule interface {
	Apply(ctx *Context, next, old *entity.Entity) error
}

// RedactionalTagsRule keeps tags that were assigned to old by anyone other
// than the importing source or the shared taxonomy.
type RedactionalTagsRule struct {
	taxonomySources []string
}

func NewRedactionalTagsRule(config map[string]any) (*RedactionalTagsRule, error) {
	sources, err := configStrings(config, "taxonomySources")
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		sources = []string{taxonomy.DefaultSource}
	}
	return &RedactionalTagsRule{taxonomySources: sources}, nil
}

func (r *RedactionalTagsRule) Apply(ctx *Context, next, old *entity.Entity) error {
	if old == nil {
		return nil
	}
	for _, t := range old.Tags {
		if strings.EqualFold(t.Source, ctx.Source) {
			continue
		}
		if slices.ContainsFunc(r.taxonomySources, func(s string) bool {
			return strings.EqualFold(s, t.Source)
		}) {
			continue
		}
		next.AddTagID(t.ID)
	}
	return nil
}

const defaultLookbackMonths = 6

// DateRetentionRule keeps past event dates that the source no longer lists,
// as long as they fall into the lookback window.
type DateRetentionRule struct {
	lookbackMonths int
}

func NewDateRetentionRule(config map[string]any) (*DateRetentionRule, error) {
	months, ok, err := configInt(config, "lookbackMonths")
	if err != nil {
		return nil, err
	}
	if !ok {
		months = defaultLookbackMonths
	}
	if months < 0 {
		return nil, fmt.Errorf("lookbackMonths must not be negative")
	}
	return &DateRetentionRule{lookbackMonths: months}, nil
}

func (r *DateRetentionRule) Apply(ctx *Context, next, old *entity.Entity) error {
	if old == nil || old.Properties.Event == nil || next.Properties.Event == nil {
		return nil
	}
	ev := next.Properties.Event
	cutoff := ctx.Now.AddDate(0, -r.lookbackMonths, 0)

	for _, d := range old.Properties.Event.Dates {
		if !d.From.Before(ctx.Now) || d.From.Before(cutoff) {
			continue
		}
		if slices.ContainsFunc(ev.Dates, func(n entity.EventDate) bool {
			return sameDate(n, d)
		}) {
			continue
		}
		ev.Dates = append(ev.Dates, d)
	}

	slices.SortStableFunc(ev.Dates, func(a, b entity.EventDate) int {
		return a.From.Compare(b.From)
	})

	if len(ev.Dates) > 0 {
		begin := ev.Dates[0].From
		end := ev.Dates[0].To
		for _, d := range ev.Dates[1:] {
			if d.To.After(end) {
				end = d.To
			}
		}
		ev.DateBegin = &begin
		ev.DateEnd = &end
	}
	return nil
}

func sameDate(a, b entity.EventDate) bool {
	if a.DayRID != "" || b.DayRID != "" {
		return strings.EqualFold(a.DayRID, b.DayRID)
	}
	return a.From.Equal(b.From)
}

// LocationRule resolves the location of new entities only. Once stored, the
// location may be corrected by hand and is carried forward. Distances are
// derived from the location and recomputed on every pass.
type LocationRule struct{}

func NewLocationRule(map[string]any) (*LocationRule, error) {
	return &LocationRule{}, nil
}

func (r *LocationRule) Apply(ctx *Context, next, old *entity.Entity) error {
	switch {
	case old == nil && ctx.Location != nil:
		loc, err := ctx.Location.Resolve(ctx, next)
		if err != nil {
			return fmt.Errorf("failed to resolve location: %w", err)
		}
		if loc != nil {
			next.LocationInfo = loc
		}
	case old != nil && old.LocationInfo != nil:
		loc := *old.LocationInfo
		next.LocationInfo = &loc
	}

	if ctx.Distance != nil && next.LocationInfo != nil {
		dist, err := ctx.Distance.Calculate(ctx, next)
		if err != nil {
			return fmt.Errorf("failed to calculate distance: %w", err)
		}
		next.DistanceInfo = dist
	}
	return nil
}

var defaultCuratedFields = []string{"ageFrom", "ageTo"}

// CuratedFieldsRule keeps positive numeric values of old over parsed ones.
type CuratedFieldsRule struct {
	fields []string
}

func NewCuratedFieldsRule(config map[string]any) (*CuratedFieldsRule, error) {
	fields, err := configStrings(config, "fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = defaultCuratedFields
	}
	return &CuratedFieldsRule{fields: fields}, nil
}

func (r *CuratedFieldsRule) Apply(ctx *Context, next, old *entity.Entity) error {
	if old == nil || old.Properties.Kind != next.Properties.Kind {
		return nil
	}
	for _, f := range r.fields {
		ov, ok := old.Properties.IntField(f)
		if !ok || ov <= 0 {
			continue
		}
		next.Properties.SetIntField(f, ov)
	}
	return nil
}

// BaselineTagRule makes sure the configured tags are always present.
type BaselineTagRule struct {
	tags []string
}

func NewBaselineTagRule(config map[string]any) (*BaselineTagRule, error) {
	tags, err := configStrings(config, "tags")
	if err != nil {
		return nil, err
	}
	if tag, ok := configString(config, "tag"); ok {
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("baseline-tag rule needs at least one tag")
	}
	return &BaselineTagRule{tags: tags}, nil
}

func (r *BaselineTagRule) Apply(ctx *Context, next, old *entity.Entity) error {
	for _, t := range r.tags {
		next.AddTagID(t)
	}
	return nil
}

// OrganizerRule carries the organizer contact of an event when the source
// still references the same organizer without sending its details.
type OrganizerRule struct{}

func NewOrganizerRule(map[string]any) (*OrganizerRule, error) {
	return &OrganizerRule{}, nil
}

func (r *OrganizerRule) Apply(ctx *Context, next, old *entity.Entity) error {
	if old == nil || old.Properties.Event == nil || next.Properties.Event == nil {
		return nil
	}
	ne, oe := next.Properties.Event, old.Properties.Event
	if ne.OrganizerID == "" || ne.Organizer != nil || oe.Organizer == nil {
		return nil
	}
	if !strings.EqualFold(ne.OrganizerID, oe.OrganizerID) {
		return nil
	}
	o := *oe.Organizer
	ne.Organizer = &o
	return nil
}

type FirstImportRule struct{}

func NewFirstImportRule(map[string]any) (*FirstImportRule, error) {
	return &FirstImportRule{}, nil
}

func (r *FirstImportRule) Apply(ctx *Context, next, old *entity.Entity) error {
	if old == nil || old.FirstImport == nil {
		return nil
	}
	t := *old.FirstImport
	next.FirstImport = &t
	return nil
}

// MappingRule keeps the id mappings other sources attached to old.
type MappingRule struct{}

func NewMappingRule(map[string]any) (*MappingRule, error) {
	return &MappingRule{}, nil
}

func (r *MappingRule) Apply(ctx *Context, next, old *entity.Entity) error {
	if old == nil {
		return nil
	}
	for src, values := range old.Mapping {
		if _, ok := next.Mapping[src]; ok {
			continue
		}
		inner := make(map[string]string, len(values))
		for k, v := range values {
			inner[k] = v
		}
		next.SetMapping(src, inner)
	}
	return nil
}
