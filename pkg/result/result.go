package result

import (
	"slices"
	"strings"
)

// SyncResult is the outcome of importing one record, one pass or any merge
// of those. The zero value is the identity of Merge.
type SyncResult struct {
	Created            int      `json:"created"`
	Updated            int      `json:"updated"`
	Deleted            int      `json:"deleted"`
	Error              int      `json:"error"`
	ObjectChanged      int      `json:"objectchanged"`
	ObjectImageChanged int      `json:"objectimagechanged"`
	Compared           int      `json:"objectcompared"`
	PushChannels       []string `json:"pushchannels,omitempty"`
	Changes            []Change `json:"changes,omitempty"`
	Exception          string   `json:"exception,omitempty"`
}

func Zero() SyncResult {
	return SyncResult{}
}

// Errored returns a result counting one failure.
func Errored(err error) SyncResult {
	r := SyncResult{Error: 1}
	if err != nil {
		r.Exception = err.Error()
	}
	return r
}

// Merge combines results: counts are summed, push channels unioned, changes
// concatenated in argument order and exceptions joined.
func Merge(results ...SyncResult) SyncResult {
	var out SyncResult
	for _, r := range results {
		out = out.Merge(r)
	}
	return out
}

// Merge returns r unchanged when o is zero and the other way round. Otherwise
// push channels come back sorted and deduplicated.
func (r SyncResult) Merge(o SyncResult) SyncResult {
	switch {
	case o.IsZero():
		return r
	case r.IsZero():
		return o
	}

	out := SyncResult{
		Created:            r.Created + o.Created,
		Updated:            r.Updated + o.Updated,
		Deleted:            r.Deleted + o.Deleted,
		Error:              r.Error + o.Error,
		ObjectChanged:      r.ObjectChanged + o.ObjectChanged,
		ObjectImageChanged: r.ObjectImageChanged + o.ObjectImageChanged,
		Compared:           r.Compared + o.Compared,
		PushChannels:       UnionChannels(r.PushChannels, o.PushChannels),
		Exception:          joinExceptions(r.Exception, o.Exception),
	}
	if len(r.Changes)+len(o.Changes) > 0 {
		out.Changes = make([]Change, 0, len(r.Changes)+len(o.Changes))
		out.Changes = append(out.Changes, r.Changes...)
		out.Changes = append(out.Changes, o.Changes...)
	}
	return out
}

func (r SyncResult) IsZero() bool {
	return r.Created == 0 && r.Updated == 0 && r.Deleted == 0 && r.Error == 0 &&
		r.ObjectChanged == 0 && r.ObjectImageChanged == 0 && r.Compared == 0 &&
		len(r.PushChannels) == 0 && len(r.Changes) == 0 && r.Exception == ""
}

// Processed is the number of records that reached a terminal outcome.
func (r SyncResult) Processed() int {
	return r.Created + r.Updated + r.Deleted + r.Error
}

// UnionChannels returns the sorted set union of the given channel lists.
func UnionChannels(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, c := range l {
			if c == "" {
				continue
			}
			if _, found := slices.BinarySearch(out, c); !found {
				out = append(out, c)
				slices.Sort(out)
			}
		}
	}
	return out
}

func joinExceptions(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return strings.Join([]string{a, b}, "; ")
	}
}
