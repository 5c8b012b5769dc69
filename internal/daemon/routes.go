//go:build unix

package daemon

import (
	"net/http"
	"time"
)

func (d *Daemon) setupRoutes(mux *http.ServeMux) {
	// Health endpoint
	mux.HandleFunc("/health", d.handleHealth)

	mux.HandleFunc("/api/instances", d.handleInstances)
	mux.HandleFunc("/api/instances/scan", d.handleScan)
	mux.HandleFunc("/api/instances/", d.handleInstanceByID)
	mux.HandleFunc("/api/scans", d.handleListScans)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(d.startTime).Seconds(),
		Root:      d.scanner.Root(),
		Instances: d.registry.Len(),
	}, http.StatusOK)
}
