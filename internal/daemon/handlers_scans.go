//go:build unix

package daemon

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gurisko/hearth/internal/history"
)

type ListScansResponse struct {
	Scans []history.Record `json:"scans"`
}

func (d *Daemon) handleListScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	d.scanMu.Lock()
	store := d.history
	d.scanMu.Unlock()
	if store == nil {
		writeError(w, "scan history is not available", http.StatusServiceUnavailable)
		return
	}

	scans, err := store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, fmt.Sprintf("failed to read scan history: %v", err), http.StatusInternalServerError)
		return
	}
	if scans == nil {
		scans = []history.Record{}
	}
	writeJSON(w, ListScansResponse{Scans: scans}, http.StatusOK)
}
