package result

import (
	"encoding/json"
	"sync"
	"time"
)

type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionDisable Action = "DISABLE"
	ActionSkip    Action = "SKIP"
	ActionImport  Action = "IMPORT"
)

type ChangeKind string

const (
	KindField ChangeKind = "field"
	KindImage ChangeKind = "image"
	KindState ChangeKind = "state"
)

type Change struct {
	EntityID string     `json:"id"`
	Kind     ChangeKind `json:"kind"`
	Field    string     `json:"field"`
	Old      string     `json:"old,omitempty"`
	New      string     `json:"new,omitempty"`
}

func FieldChange(id, field, old, new string) Change {
	return Change{EntityID: id, Kind: KindField, Field: field, Old: old, New: new}
}

func ImageChange(id, field, old, new string) Change {
	return Change{EntityID: id, Kind: KindImage, Field: field, Old: old, New: new}
}

func StateChange(id, field, old, new string) Change {
	return Change{EntityID: id, Kind: KindState, Field: field, Old: old, New: new}
}

type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Source    string    `json:"source"`
	ID        string    `json:"id"`
	Changes   []Change  `json:"changes,omitempty"`
	Error     error     `json:"-"`
}

func (e AuditEntry) MarshalJSON() ([]byte, error) {
	type Alias AuditEntry
	var errStr string
	if e.Error != nil {
		errStr = e.Error.Error()
	}
	return json.Marshal(&struct {
		Alias
		Error string `json:"error,omitempty"`
	}{
		Alias: Alias(e),
		Error: errStr,
	})
}

func (e *AuditEntry) UnmarshalJSON(b []byte) error {
	type Alias AuditEntry
	aux := &struct {
		*Alias
		Error string `json:"error,omitempty"`
	}{Alias: (*Alias)(e)}
	if err := json.Unmarshal(b, aux); err != nil {
		return err
	}
	if aux.Error != "" {
		e.Error = auditError(aux.Error)
	}
	return nil
}

type auditError string

func (e auditError) Error() string { return string(e) }

// Aggregator collects per-record results and the audit trail of one pass.
// It is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	source  string
	total   SyncResult
	entries []AuditEntry
}

func NewAggregator(source string) *Aggregator {
	return &Aggregator{source: source}
}

func (a *Aggregator) Add(r SyncResult) {
	a.mu.Lock()
	a.total = a.total.Merge(r)
	a.mu.Unlock()
}

func (a *Aggregator) Result() SyncResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func (a *Aggregator) Record(action Action, id string, changes ...Change) {
	a.append(AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Source:    a.source,
		ID:        id,
		Changes:   changes,
	})
}

func (a *Aggregator) RecordError(action Action, id string, err error) {
	a.append(AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Source:    a.source,
		ID:        id,
		Error:     err,
	})
}

func (a *Aggregator) append(entry AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

func (a *Aggregator) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Aggregator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range a.entries {
		counts[string(e.Action)]++
		if e.Error != nil {
			counts["ERRORS"]++
		}
	}
	return counts
}
