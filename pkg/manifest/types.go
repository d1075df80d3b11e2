package manifest

import (
	"maps"
	"slices"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	SupportedAPIVersion = "odhsync.io/v1"
	KindImportSource    = "ImportSource"
)

// ImportSource configures one source: where records come from, how they are
// parsed and merged, and how the source reports deletions.
type ImportSource struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`
	Spec              ImportSourceSpec   `json:"spec"`
	Status            ImportSourceStatus `json:"status,omitempty"`
}

type ImportSourceSpec struct {
	// Source is the datasource name stamped on every entity (lts, dss, ...).
	Source string `json:"source"`
	// Interface is the sync source interface, the provenance used when
	// reconciling deletions.
	Interface  string `json:"interface"`
	EntityType string `json:"entityType"`
	IDStyle    string `json:"idStyle,omitempty"`
	// Deletion is hard when the source supports true deletions, soft when
	// vanished records are only disabled.
	Deletion   string `json:"deletion,omitempty"`
	Mode       string `json:"mode,omitempty"`
	SyncPeriod string `json:"syncPeriod,omitempty"`
	// Incremental makes scheduled passes fetch only the records changed since
	// the last pass. A full pass still runs every FullSyncEvery (default 24h)
	// so vanished records get reconciled.
	Incremental   bool   `json:"incremental,omitempty"`
	FullSyncEvery string `json:"fullSyncEvery,omitempty"`
	// ReconcileEmpty lets a full pass that fetched no records disable every
	// stored record of the source. Off by default, an empty listing is
	// usually an upstream outage.
	ReconcileEmpty bool              `json:"reconcileEmpty,omitempty"`
	Workers        int               `json:"workers,omitempty"`
	FetchTimeout   string            `json:"fetchTimeout,omitempty"`
	License        string            `json:"license,omitempty"`
	Client         PluginConfig      `json:"client"`
	Parser         PluginConfig      `json:"parser"`
	MergeRules     []MergeRuleConfig `json:"mergeRules,omitempty"`
	Compare        CompareConfig     `json:"compare,omitempty"`
	Constraints    ConstraintsConfig `json:"constraints,omitempty"`
	Suspend        bool              `json:"suspend,omitempty"`
}

type PluginConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type MergeRuleConfig struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type CompareConfig struct {
	// Diff defaults to true.
	Diff   *bool `json:"diff,omitempty"`
	Images bool  `json:"images,omitempty"`
}

type ConstraintsConfig struct {
	DenyCreate bool `json:"denyCreate,omitempty"`
	DenyUpdate bool `json:"denyUpdate,omitempty"`
}

type ImportSourceStatus struct {
	LastSync metav1.Time `json:"lastSync,omitempty"`
	Status   string      `json:"status,omitempty"`
	Message  string      `json:"message,omitempty"`
	Created  int         `json:"created,omitempty"`
	Updated  int         `json:"updated,omitempty"`
	Deleted  int         `json:"deleted,omitempty"`
	Errors   int         `json:"errors,omitempty"`
}

func (s ImportSourceSpec) SyncMode() (entity.SyncMode, error) {
	return entity.ParseSyncMode(s.Mode)
}

func (s ImportSourceSpec) DeletionMode() (entity.DeletionMode, error) {
	return entity.ParseDeletionMode(s.Deletion)
}

func (s ImportSourceSpec) IDs() entity.IDStyle {
	return entity.IDStyle(s.IDStyle)
}

func (s ImportSourceSpec) Period(fallback time.Duration) time.Duration {
	return durationOr(s.SyncPeriod, fallback)
}

func (s ImportSourceSpec) FullSyncInterval(fallback time.Duration) time.Duration {
	return durationOr(s.FullSyncEvery, fallback)
}

func (s ImportSourceSpec) Timeout(fallback time.Duration) time.Duration {
	return durationOr(s.FetchTimeout, fallback)
}

func (c CompareConfig) DiffEnabled() bool {
	return c.Diff == nil || *c.Diff
}

func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DeepCopy copies src. Plugin config values below the top level are shared
// and must be treated as read only.
func (in *ImportSource) DeepCopy() *ImportSource {
	if in == nil {
		return nil
	}
	out := &ImportSource{TypeMeta: in.TypeMeta, Spec: in.Spec, Status: in.Status}
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Status.LastSync.DeepCopyInto(&out.Status.LastSync)

	out.Spec.Client.Config = maps.Clone(in.Spec.Client.Config)
	out.Spec.Parser.Config = maps.Clone(in.Spec.Parser.Config)
	out.Spec.MergeRules = slices.Clone(in.Spec.MergeRules)
	for i := range out.Spec.MergeRules {
		out.Spec.MergeRules[i].Config = maps.Clone(in.Spec.MergeRules[i].Config)
	}
	if in.Spec.Compare.Diff != nil {
		diff := *in.Spec.Compare.Diff
		out.Spec.Compare.Diff = &diff
	}
	return out
}
