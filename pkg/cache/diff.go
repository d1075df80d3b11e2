package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/result"
)

// Fields never reported as content changes.
var ignoredPaths = []string{"_Meta", "LastChange", "FirstImport"}

const imagePath = "ImageGallery"

type Diff struct {
	Fields []result.Change
	Images []result.Change
}

func (d *Diff) HasChanges() bool {
	return len(d.Fields) > 0
}

func (d *Diff) HasImageChanges() bool {
	return len(d.Images) > 0
}

func (d *Diff) All() []result.Change {
	out := make([]result.Change, 0, len(d.Fields)+len(d.Images))
	out = append(out, d.Fields...)
	return append(out, d.Images...)
}

// CalculateDiff compares two versions of an entity field by field. A nil old
// reports every field of new as added.
func CalculateDiff(old, new *entity.Entity) (*Diff, error) {
	oldFlat, err := flattenEntity(old)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten old entity: %w", err)
	}
	newFlat, err := flattenEntity(new)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten new entity: %w", err)
	}

	id := ""
	if new != nil {
		id = new.ID
	} else if old != nil {
		id = old.ID
	}

	keys := make(map[string]struct{}, len(oldFlat)+len(newFlat))
	for k := range oldFlat {
		keys[k] = struct{}{}
	}
	for k := range newFlat {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	diff := &Diff{}
	for _, path := range sorted {
		if ignored(path) {
			continue
		}
		o, n := oldFlat[path], newFlat[path]
		if o == n {
			continue
		}
		if path == imagePath || strings.HasPrefix(path, imagePath+"[") {
			diff.Images = append(diff.Images, result.ImageChange(id, path, o, n))
			continue
		}
		diff.Fields = append(diff.Fields, result.FieldChange(id, path, o, n))
	}
	return diff, nil
}

func ignored(path string) bool {
	for _, p := range ignoredPaths {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

func flattenEntity(e *entity.Entity) (map[string]string, error) {
	out := make(map[string]string)
	if e == nil {
		return out, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	flatten("", generic, out)
	return out, nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, inner, out)
		}
	case []any:
		for i, inner := range val {
			flatten(prefix+"["+strconv.Itoa(i)+"]", inner, out)
		}
	case nil:
	case string:
		out[prefix] = val
	case bool:
		out[prefix] = strconv.FormatBool(val)
	case float64:
		out[prefix] = strconv.FormatFloat(val, 'f', -1, 64)
	default:
		out[prefix] = fmt.Sprintf("%v", val)
	}
}
