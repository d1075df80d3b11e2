package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/controller"
	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"codeberg.org/opendatahub/odhsync/pkg/metrics"
	"codeberg.org/opendatahub/odhsync/pkg/result"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"go.uber.org/zap"
)

const (
	APIPrefix = "/apis/odhsync.io/v1"
	xlsxType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ImportRequest names records a source reports as changed.
type ImportRequest struct {
	IDs  []string `json:"ids"`
	Mode string   `json:"mode,omitempty"`
}

// SetupRoutes registers the HTTP API. db may be nil, manifests are then
// applied to the manager directly instead of being stored in etcd.
func SetupRoutes(
	mux *http.ServeMux,
	ctx context.Context,
	db *store.EtcdStore,
	mgr *controller.Manager,
	m *metrics.Metrics,
	metricsPath string,
	logger *zap.Logger,
) {
	p := manifest.NewParser()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if m != nil && metricsPath != "" {
		mux.Handle(metricsPath, m.Handler())
	}

	mux.HandleFunc(APIPrefix+"/importsources", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, mgr.Sources(), logger)

		case http.MethodPost:
			b, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "Failed to read body", http.StatusBadRequest)
				return
			}

			src, err := p.Parse(b)
			if err != nil {
				logger.Error("Failed to parse manifest", zap.Error(err))
				http.Error(w, fmt.Sprintf("Invalid manifest: %v", err), http.StatusBadRequest)
				return
			}

			if db != nil {
				if err := db.PutSource(ctx, src.Name, b); err != nil {
					logger.Error("Store put failed", zap.Error(err))
					http.Error(w, "Store error", http.StatusInternalServerError)
					return
				}
			} else if err := mgr.AddSource(ctx, src); err != nil {
				logger.Error("Failed to add import source", zap.String("name", src.Name), zap.Error(err))
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "name": src.Name}, logger)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc(APIPrefix+"/importsources/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, APIPrefix+"/importsources/")
		parts := strings.Split(strings.Trim(path, "/"), "/")

		name := parts[0]
		if name == "" {
			http.Error(w, "Import source name required", http.StatusBadRequest)
			return
		}

		action := ""
		if len(parts) == 2 {
			action = parts[1]
		} else if len(parts) > 2 {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}

		switch action {
		case "":
			handleSource(w, r, ctx, db, mgr, name, logger)
		case "sync":
			handleSync(w, r, mgr, name, logger)
		case "import":
			handleImport(w, r, mgr, name, logger)
		case "result":
			handleResult(w, r, mgr, name, logger)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})
}

func handleSource(
	w http.ResponseWriter,
	r *http.Request,
	ctx context.Context,
	db *store.EtcdStore,
	mgr *controller.Manager,
	name string,
	logger *zap.Logger,
) {
	switch r.Method {
	case http.MethodGet:
		src, ok := mgr.Source(name)
		if !ok {
			http.Error(w, fmt.Sprintf("Import source %q not found", name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, src, logger)

	case http.MethodDelete:
		if db != nil {
			if err := db.DeleteSource(ctx, name); err != nil {
				logger.Error("Store delete failed", zap.Error(err))
				http.Error(w, "Store error", http.StatusInternalServerError)
				return
			}
		} else {
			mgr.RemoveSource(name)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name}, logger)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSync runs a pass and answers with its result. Query parameters:
// full, mode, since (RFC 3339) and id (repeatable).
func handleSync(w http.ResponseWriter, r *http.Request, mgr *controller.Manager, name string, logger *zap.Logger) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts, err := mgr.DefaultOptions(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	if v := q.Get("mode"); v != "" {
		if opts.Mode, err = entity.ParseSyncMode(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("full"); v != "" {
		if opts.Full, err = strconv.ParseBool(v); err != nil {
			http.Error(w, fmt.Sprintf("invalid full: %v", err), http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("since"); v != "" {
		if opts.Since, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, fmt.Sprintf("invalid since: %v", err), http.StatusBadRequest)
			return
		}
	}
	opts.IDs = q["id"]

	logger.Info("Manual sync triggered",
		zap.String("source", name),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("full", opts.Full),
		zap.Int("ids", len(opts.IDs)))

	res, err := mgr.Trigger(r.Context(), name, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, controller.ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	status := http.StatusOK
	if res.Exception == controller.ErrPassRunning.Error() {
		status = http.StatusConflict
	}
	writeJSON(w, status, res, logger)
}

// handleImport queues ids reported by a push notification.
func handleImport(w http.ResponseWriter, r *http.Request, mgr *controller.Manager, name string, logger *zap.Logger) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids required", http.StatusBadRequest)
		return
	}

	mode, err := entity.ParseSyncMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := mgr.EnqueueIDs(name, mode, req.IDs); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, controller.ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"source": name,
		"ids":    len(req.IDs),
	}, logger)
}

// handleResult returns the last pass result, or its audit trail with
// format=audit (JSON) or format=xlsx.
func handleResult(w http.ResponseWriter, r *http.Request, mgr *controller.Manager, name string, logger *zap.Logger) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		res, ok := mgr.LastResult(name)
		if !ok {
			http.Error(w, fmt.Sprintf("No result for %q", name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, res, logger)
		return
	}

	entries, err := mgr.LastAudit(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	switch format {
	case "audit":
		if entries == nil {
			entries = []result.AuditEntry{}
		}
		writeJSON(w, http.StatusOK, entries, logger)
	case "xlsx":
		w.Header().Set("Content-Type", xlsxType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
		if err := result.ExportToExcel(w, entries); err != nil {
			logger.Error("Failed to export audit", zap.String("source", name), zap.Error(err))
		}
	default:
		http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
