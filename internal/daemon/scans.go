//go:build unix

package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/gurisko/hearth/internal/history"
	"github.com/gurisko/hearth/internal/logging"
	"github.com/gurisko/hearth/internal/scan"
)

// runScan scans the instances root into the registry, then drops members
// whose directory disappeared, rewrites the snapshot and records the scan.
// Only one scan runs at a time.
func (d *Daemon) runScan(ctx context.Context) (*scan.Report, error) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.scanTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, d.logger)

	report, err := d.scanner.ScanForInstances(ctx, d.registry)
	if err != nil {
		d.logger.Error("instance scan failed", "root", d.scanner.Root(), "error", err)
		return nil, err
	}
	for _, f := range report.Failures {
		d.logger.Warn("instance rejected", "path", f.Path, "kind", scan.KindName(f.Err), "error", f.Err)
	}

	d.pruneMissing()
	d.saveSnapshot()

	if d.history != nil {
		// The scan deadline must not cut the history write short.
		if _, err := d.history.Add(context.WithoutCancel(ctx), history.FromReport(report)); err != nil {
			d.logger.Warn("failed to record scan", "error", err)
		}
	}
	return report, nil
}

// pruneMissing removes members whose instance directory no longer exists
func (d *Daemon) pruneMissing() {
	for _, inst := range d.registry.List() {
		dir := inst.Path()
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			if _, err := d.registry.Remove(inst.UUID); err == nil {
				d.logger.Info("instance directory removed, dropping from registry", "uuid", inst.UUID, "path", dir)
			}
		}
	}
}

// saveSnapshot must be called with scanMu held
func (d *Daemon) saveSnapshot() {
	if err := d.registry.SaveSnapshot(d.snapshotPath, d.scanner.Root()); err != nil {
		d.logger.Warn("failed to save registry snapshot", "path", d.snapshotPath, "error", err)
	}
}
