//go:build unix

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gurisko/hearth/internal/history"
	"github.com/gurisko/hearth/internal/limits"
	"github.com/gurisko/hearth/internal/manifest"
	"github.com/gurisko/hearth/internal/registry"
	"github.com/gurisko/hearth/internal/scan"
)

// Request/Response types

type ScanResponse struct {
	Root       string                  `json:"root"`
	Admitted   []*registry.Instance    `json:"admitted"`
	Failures   []history.FailureRecord `json:"failures"`
	DurationMS int64                   `json:"duration_ms"`
}

type ListInstancesResponse struct {
	Instances []*registry.Instance `json:"instances"`
	Count     int                  `json:"count"`
}

type InstanceResponse struct {
	Instance *registry.Instance `json:"instance"`
}

type CreateInstanceRequest struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Loaders []registry.Loader `json:"loaders,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Handler methods

func (d *Daemon) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := d.runScan(r.Context())
	if err != nil {
		writeJSON(w, ErrorResponse{Error: err.Error(), Kind: scan.KindName(err)}, http.StatusUnprocessableEntity)
		return
	}

	rec := history.FromReport(report)
	resp := ScanResponse{
		Root:       report.Root,
		Admitted:   report.Admitted,
		Failures:   rec.Failures,
		DurationMS: rec.DurationMS,
	}
	if resp.Admitted == nil {
		resp.Admitted = []*registry.Instance{}
	}
	if resp.Failures == nil {
		resp.Failures = []history.FailureRecord{}
	}
	writeJSON(w, resp, http.StatusOK)
}

// handleInstances serves the collection: GET lists, POST creates
func (d *Daemon) handleInstances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		instances := d.registry.List()
		writeJSON(w, ListInstancesResponse{Instances: instances, Count: len(instances)}, http.StatusOK)
	case http.MethodPost:
		d.handleCreateInstance(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Daemon) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req CreateInstanceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limits.JSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	// Validate required fields
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.Version == "" {
		writeError(w, "version is required", http.StatusBadRequest)
		return
	}

	m := &manifest.Manifest{
		InstanceName: req.Name,
		Package:      manifest.PackageSection{Version: req.Version},
	}
	for _, l := range req.Loaders {
		m.Package.Loaders = append(m.Package.Loaders, manifest.LoaderSection{Kind: l.Kind, Version: l.Version})
	}

	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	inst, err := scan.Create(d.scanner.Root(), m)
	if err != nil {
		if errors.Is(err, scan.ErrConfigParse) {
			writeJSON(w, ErrorResponse{Error: fmt.Sprintf("invalid configuration: %v", err), Kind: scan.KindName(err)}, http.StatusBadRequest)
			return
		}
		if errors.Is(err, scan.ErrInstanceExists) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, fmt.Sprintf("failed to create instance: %v", err), http.StatusInternalServerError)
		return
	}
	if err := d.registry.Insert(inst); err != nil {
		writeError(w, fmt.Sprintf("failed to register instance: %v", err), http.StatusConflict)
		return
	}
	d.saveSnapshot()

	w.Header().Set("Location", "/api/instances/"+inst.UUID)
	writeJSON(w, InstanceResponse{Instance: inst}, http.StatusCreated)
}

// handleInstanceByID routes requests to /api/instances/{uuid} to the appropriate handler
func (d *Daemon) handleInstanceByID(w http.ResponseWriter, r *http.Request) {
	// Extract instance UUID from path: /api/instances/{uuid}
	raw := strings.TrimPrefix(r.URL.Path, "/api/instances/")
	if raw == "" || raw == r.URL.Path {
		writeError(w, "instance UUID is required", http.StatusBadRequest)
		return
	}
	id, err := registry.IdentityFromName(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		inst, ok := d.registry.Get(id)
		if !ok {
			writeError(w, "instance not found", http.StatusNotFound)
			return
		}
		writeJSON(w, InstanceResponse{Instance: inst}, http.StatusOK)
	case http.MethodDelete:
		d.handleRemoveInstance(w, id)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRemoveInstance unregisters an instance. Its directory is left alone,
// so the next scan admits it again.
func (d *Daemon) handleRemoveInstance(w http.ResponseWriter, id string) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	if _, err := d.registry.Remove(id); err != nil {
		if errors.Is(err, registry.ErrInstanceNotFound) {
			writeError(w, "instance not found", http.StatusNotFound)
			return
		}
		writeError(w, fmt.Sprintf("failed to remove instance: %v", err), http.StatusInternalServerError)
		return
	}
	d.saveSnapshot()

	w.WriteHeader(http.StatusNoContent)
}

// Helper functions

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	buf, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func writeError(w http.ResponseWriter, message string, status int) {
	resp := ErrorResponse{
		Error: message,
	}
	writeJSON(w, resp, status)
}
