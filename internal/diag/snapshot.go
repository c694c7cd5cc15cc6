// Package diag periodically dumps neighbor-table and counter snapshots
// to disk for offline inspection, the way the teacher's log package
// writes one CSV row per heard packet (spec.md 9: operator tooling).
package diag

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/uwbmesh/tschcore/internal/location"
)

// SnapshotWriter appends one CSV row per neighbor-table dump to a file
// whose name is generated from a strftime pattern, so deployments can
// roll snapshots daily ("snapshot-%Y-%m-%d.csv") or keep one running
// file ("snapshot.csv") by supplying a pattern with no conversions.
type SnapshotWriter struct {
	pattern *strftime.Strftime

	openName string
	file     *os.File
}

// NewSnapshotWriter compiles pattern (a strftime format string) ready
// for periodic Write calls.
func NewSnapshotWriter(pattern string) (*SnapshotWriter, error) {
	p, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("diag: compile snapshot pattern: %w", err)
	}
	return &SnapshotWriter{pattern: p}, nil
}

// Write appends one row per present neighbor-table entry, rolling to a
// new file if the pattern's expansion for now differs from the
// currently open file.
func (w *SnapshotWriter) Write(self string, table *location.Table, now time.Time) error {
	name := w.pattern.FormatString(now)
	if w.file != nil && name != w.openName {
		w.file.Close()
		w.file = nil
	}
	if w.file == nil {
		already := false
		if _, err := os.Stat(name); err == nil {
			already = true
		}
		f, err := os.OpenFile(name, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("diag: open snapshot file: %w", err)
		}
		w.file, w.openName = f, name
		if !already {
			fmt.Fprintln(w.file, "utime,self,lattice_index,addr,x,y,z,class,drop_count,local")
		}
	}

	cw := csv.NewWriter(w.file)
	defer cw.Flush()
	utime := fmt.Sprintf("%d", now.Unix())
	for idx := 0; idx < location.NumLatticeIndices; idx++ {
		nbr := table.At(idx)
		if !nbr.Present {
			continue
		}
		if err := cw.Write([]string{
			utime, self, fmt.Sprintf("%d", idx), nbr.Addr.String(),
			fmt.Sprintf("%.3f", nbr.Position.X), fmt.Sprintf("%.3f", nbr.Position.Y), fmt.Sprintf("%.3f", nbr.Position.Z),
			fmt.Sprintf("%d", nbr.Class), fmt.Sprintf("%d", nbr.DropCount), fmt.Sprintf("%t", nbr.LocalNbrhood),
		}); err != nil {
			return fmt.Errorf("diag: write snapshot row: %w", err)
		}
	}
	return cw.Error()
}

// Close releases the currently open snapshot file, if any.
func (w *SnapshotWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
