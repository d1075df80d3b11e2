package metadata

import (
	"slices"
	"strings"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
)

const (
	LicenseClosed = "Closed"
	LicenseCC0    = "CC0"
)

type LicenseRuleProvider interface {
	License(e *entity.Entity, mode entity.SyncMode) entity.LicenseInfo
}

// LicenseRule matches when every non-empty condition holds.
type LicenseRule struct {
	Types   []string `yaml:"types" json:"types"`
	Sources []string `yaml:"sources" json:"sources"`
	// AnyTag matches when the entity carries at least one of these tag ids.
	AnyTag  []string `yaml:"anyTag" json:"anyTag"`
	Active  *bool    `yaml:"active" json:"active"`
	Reduced *bool    `yaml:"reduced" json:"reduced"`

	License       string `yaml:"license" json:"license"`
	LicenseHolder string `yaml:"licenseHolder" json:"licenseHolder"`
	Author        string `yaml:"author" json:"author"`
}

func (r LicenseRule) matches(e *entity.Entity, mode entity.SyncMode) bool {
	if len(r.Types) > 0 && !containsFold(r.Types, e.Type) {
		return false
	}
	if len(r.Sources) > 0 && !containsFold(r.Sources, e.Source) {
		return false
	}
	if r.Active != nil && *r.Active != e.Active {
		return false
	}
	if r.Reduced != nil && *r.Reduced != (mode == entity.ModeReduced) {
		return false
	}
	if len(r.AnyTag) > 0 && !slices.ContainsFunc(r.AnyTag, e.HasTagID) {
		return false
	}
	return true
}

func (r LicenseRule) info() entity.LicenseInfo {
	license := r.License
	if license == "" {
		license = LicenseClosed
	}
	return entity.LicenseInfo{
		License:       license,
		LicenseHolder: r.LicenseHolder,
		Author:        r.Author,
		ClosedData:    license == LicenseClosed,
	}
}

// RuleTable returns the license of the first matching rule, or Default.
type RuleTable struct {
	Rules   []LicenseRule `yaml:"rules" json:"rules"`
	Default LicenseRule   `yaml:"default" json:"default"`
}

func (t RuleTable) License(e *entity.Entity, mode entity.SyncMode) entity.LicenseInfo {
	for _, r := range t.Rules {
		if r.matches(e, mode) {
			return r.info()
		}
	}
	return t.Default.info()
}

// DefaultRuleTable publishes active entities and reduced projections as CC0
// and keeps everything else closed.
func DefaultRuleTable(holder string) RuleTable {
	yes := true
	return RuleTable{
		Rules: []LicenseRule{
			{Reduced: &yes, License: LicenseCC0, LicenseHolder: holder},
			{Active: &yes, License: LicenseCC0, LicenseHolder: holder},
		},
		Default: LicenseRule{License: LicenseClosed, LicenseHolder: holder},
	}
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}
