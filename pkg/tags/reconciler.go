package tags

import (
	"slices"
	"strings"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
)

// Reconciler turns the raw tag ids on an entity into resolved tag
// references, adding taxonomy parents.
type Reconciler struct {
	Taxonomy *taxonomy.Snapshot
	// Lang selects the display name stored on each reference.
	Lang string
}

func NewReconciler(snap *taxonomy.Snapshot) *Reconciler {
	return &Reconciler{Taxonomy: snap, Lang: "en"}
}

// Resolve rebuilds e.Tags from e.TagIDs and normalises e.TagIDs to the
// resolved set. References already known on e or old keep their TagEntry and
// Source.
func (r *Reconciler) Resolve(e, old *entity.Entity) *entity.Entity {
	known := make(map[string]entity.TagRef)
	if old != nil {
		for _, t := range old.Tags {
			known[strings.ToLower(t.ID)] = t
		}
	}
	for _, t := range e.Tags {
		key := strings.ToLower(t.ID)
		prev, ok := known[key]
		if ok && t.TagEntry == "" {
			t.TagEntry = prev.TagEntry
		}
		if ok && t.Source == "" {
			t.Source = prev.Source
		}
		known[key] = t
	}

	raw := slices.Clone(e.TagIDs)
	for _, t := range e.Tags {
		raw = append(raw, t.ID)
	}

	visited := make(map[string]bool)
	var resolved []entity.TagRef
	for _, id := range raw {
		resolved = r.walk(e.Source, id, known, visited, resolved)
	}

	ids := make([]string, 0, len(resolved))
	for _, t := range resolved {
		ids = append(ids, t.ID)
	}
	slices.Sort(ids)

	e.Tags = resolved
	e.TagIDs = slices.Compact(ids)
	return e
}

// walk appends id and its parent chain. visited guards against cycles in the
// taxonomy as well as duplicates in the input.
func (r *Reconciler) walk(
	source, id string,
	known map[string]entity.TagRef,
	visited map[string]bool,
	out []entity.TagRef,
) []entity.TagRef {
	for id != "" {
		tag, found := r.Taxonomy.Lookup(source, id)
		canonical := id
		if found {
			canonical = tag.ID
		}
		key := strings.ToLower(canonical)
		if visited[key] {
			return out
		}
		visited[key] = true

		ref := r.reference(source, canonical, tag, found, known[key])
		out = append(out, ref)

		if !found || len(tag.Parents) == 0 {
			return out
		}
		for _, p := range tag.Parents[1:] {
			out = r.walk(source, p, known, visited, out)
		}
		id = tag.Parents[0]
	}
	return out
}

func (r *Reconciler) reference(
	source, id string,
	tag taxonomy.Tag,
	found bool,
	prev entity.TagRef,
) entity.TagRef {
	ref := entity.TagRef{ID: id, TagEntry: prev.TagEntry}

	if found {
		ref.Source = tag.Source
		ref.Type = tag.Type()
		ref.Name = tag.DisplayName(r.Lang)
	} else {
		ref.Type = prev.Type
		ref.Name = prev.Name
	}

	switch {
	case prev.Source != "":
		ref.Source = prev.Source
	case ref.Source == "":
		ref.Source = source
	}
	return ref
}
