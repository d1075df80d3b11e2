package merge

import (
	"fmt"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/manifest"
)

// DefaultRules is the rule set used when a source configures none.
var DefaultRules = []manifest.MergeRuleConfig{
	{Name: "redactional-tags", Type: "redactional-tags"},
	{Name: "location", Type: "location-when-new"},
	{Name: "mappings", Type: "mappings"},
	{Name: "first-import", Type: "first-import"},
}

type Merger struct {
	rules []Rule
}

func NewMerger(configs []manifest.MergeRuleConfig) (*Merger, error) {
	if len(configs) == 0 {
		configs = DefaultRules
	}

	m := &Merger{}
	for _, config := range configs {
		rule, err := createRule(config)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to create merge rule %s: %w",
				config.Name,
				err,
			)
		}
		m.rules = append(m.rules, rule)
	}
	return m, nil
}

func NewMergerFromRules(rules ...Rule) *Merger {
	return &Merger{rules: rules}
}

// Merge applies every rule in order to next and returns it.
func (m *Merger) Merge(ctx *Context, next, old *entity.Entity) (*entity.Entity, error) {
	for _, rule := range m.rules {
		if err := rule.Apply(ctx, next, old); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func createRule(config manifest.MergeRuleConfig) (Rule, error) {
	switch config.Type {
	case "redactional-tags":
		return NewRedactionalTagsRule(config.Config)
	case "date-retention":
		return NewDateRetentionRule(config.Config)
	case "location-when-new":
		return NewLocationRule(config.Config)
	case "curated-fields":
		return NewCuratedFieldsRule(config.Config)
	case "baseline-tag":
		return NewBaselineTagRule(config.Config)
	case "organizer":
		return NewOrganizerRule(config.Config)
	case "first-import":
		return NewFirstImportRule(config.Config)
	case "mappings":
		return NewMappingRule(config.Config)
	default:
		return nil, fmt.Errorf("unknown merge rule type: %s", config.Type)
	}
}

func KnownRuleTypes() []string {
	return []string{
		"redactional-tags",
		"date-retention",
		"location-when-new",
		"curated-fields",
		"baseline-tag",
		"organizer",
		"first-import",
		"mappings",
	}
}
