package controller

import (
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/result"
	"github.com/puzpuzpuz/xsync/v4"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	StatusSuccess = "Success"
	StatusPartial = "Partial"
	StatusFailed  = "Failed"
)

func (m *Manager) updateStatus(sourceName string, res result.SyncResult) {
	m.sources.Compute(sourceName, func(a *activeSource, loaded bool) (*activeSource, xsync.ComputeOp) {
		if !loaded {
			return a, xsync.CancelOp
		}

		a.mu.Lock()
		defer a.mu.Unlock()

		status := &a.manifest.Status
		status.LastSync = v1.NewTime(time.Now())
		status.Status = statusOf(res)
		status.Message = res.Exception
		status.Created = res.Created
		status.Updated = res.Updated
		status.Deleted = res.Deleted
		status.Errors = res.Error

		last := res
		a.lastResult = &last
		return a, xsync.UpdateOp
	})
}

func statusOf(res result.SyncResult) string {
	switch {
	case res.Error == 0:
		return StatusSuccess
	case res.Created+res.Updated+res.Deleted > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}
