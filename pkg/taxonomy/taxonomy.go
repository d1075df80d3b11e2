package taxonomy

import (
	"context"
	"slices"
	"strings"
)

// DefaultSource is the source of the shared hub taxonomy.
const DefaultSource = "idm"

type Tag struct {
	ID      string            `yaml:"id" json:"Id"`
	Name    map[string]string `yaml:"name" json:"TagName,omitempty"`
	Source  string            `yaml:"source" json:"Source"`
	Types   []string          `yaml:"types" json:"Types,omitempty"`
	Parents []string          `yaml:"parents" json:"Parents,omitempty"`
	// Codes maps a source name to the identifiers that source uses for this tag.
	Codes                map[string][]string `yaml:"codes" json:"Codes,omitempty"`
	PublishDataWithTagOn map[string]bool     `yaml:"publishDataWithTagOn" json:"PublishDataWithTagOn,omitempty"`
}

// DisplayName prefers lang, then English, then any translation, then the id.
func (t Tag) DisplayName(lang string) string {
	if n := t.Name[lang]; n != "" {
		return n
	}
	if n := t.Name["en"]; n != "" {
		return n
	}
	keys := make([]string, 0, len(t.Name))
	for k := range t.Name {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if t.Name[k] != "" {
			return t.Name[k]
		}
	}
	return t.ID
}

func (t Tag) Type() string {
	if len(t.Types) == 0 {
		return ""
	}
	return t.Types[0]
}

// Snapshot is an immutable lookup index over a set of tags.
type Snapshot struct {
	byID   map[string]Tag
	byCode map[string]string
}

func NewSnapshot(tags []Tag) *Snapshot {
	s := &Snapshot{
		byID:   make(map[string]Tag, len(tags)),
		byCode: make(map[string]string),
	}
	for _, t := range tags {
		t.Parents = slices.Clone(t.Parents)
		s.byID[strings.ToLower(t.ID)] = t
		for src, codes := range t.Codes {
			for _, c := range codes {
				s.byCode[codeKey(src, c)] = t.ID
			}
		}
	}
	return s
}

func codeKey(source, code string) string {
	return strings.ToLower(source) + "\x00" + strings.ToLower(code)
}

func (s *Snapshot) Get(id string) (Tag, bool) {
	if s == nil {
		return Tag{}, false
	}
	t, ok := s.byID[strings.ToLower(id)]
	return t, ok
}

// Lookup resolves a raw identifier by tag id first, then by the code the
// given source uses for it.
func (s *Snapshot) Lookup(source, raw string) (Tag, bool) {
	if t, ok := s.Get(raw); ok {
		return t, true
	}
	if s == nil {
		return Tag{}, false
	}
	if id, ok := s.byCode[codeKey(source, raw)]; ok {
		return s.Get(id)
	}
	return Tag{}, false
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byID)
}

func (s *Snapshot) Tags() []Tag {
	if s == nil {
		return nil
	}
	out := make([]Tag, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tag) int { return strings.Compare(a.ID, b.ID) })
	return out
}

type Provider interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type StaticProvider struct {
	Tags []Tag
}

func (p StaticProvider) Load(context.Context) (*Snapshot, error) {
	return NewSnapshot(p.Tags), nil
}
