package site

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/umputun/sitemaster/app/enums"
)

// Snapshot is a full export of all collections, documents include their meta fields
type Snapshot struct {
	Version     int                           `json:"version" yaml:"version"`
	ExportedAt  time.Time                     `json:"exportedAt" yaml:"exportedAt"`
	Collections map[enums.Collection][]Fields `json:"collections" yaml:"collections"`
}

// ImportResult counts restored and rejected documents per collection
type ImportResult struct {
	Restored map[enums.Collection]int `json:"restored"`
	Rejected map[enums.Collection]int `json:"rejected"`
	Errors   []string                 `json:"errors,omitempty"`
}

const snapshotVersion = 1

// ErrSnapshotVersion is returned when a snapshot was written by a newer format version
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// porter is implemented by every collection and the settings repo
type porter interface {
	export(ctx context.Context) ([]Fields, error)
	restore(ctx context.Context, f Fields) error
}

func (a *App) porters() map[enums.Collection]porter {
	return map[enums.Collection]porter{
		enums.CollectionJobs:        a.Jobs,
		enums.CollectionLogs:        a.Logs,
		enums.CollectionTasks:       a.Tasks,
		enums.CollectionOrders:      a.Orders,
		enums.CollectionTools:       a.Tools,
		enums.CollectionInventory:   a.Inventory,
		enums.CollectionCrew:        a.Crew,
		enums.CollectionChecklists:  a.Checklists,
		enums.CollectionTimeEntries: a.TimeEntries,
		enums.CollectionSettings:    a.Settings,
	}
}

// Export returns a snapshot of every collection
func (a *App) Export(ctx context.Context) (Snapshot, error) {
	res := Snapshot{Version: snapshotVersion, ExportedAt: a.now().UTC(), Collections: map[enums.Collection][]Fields{}}
	for name, p := range a.porters() {
		docs, err := p.export(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to export %s: %w", name, err)
		}
		if docs == nil {
			docs = []Fields{}
		}
		res.Collections[name] = docs
	}
	return res, nil
}

// Import restores documents from a snapshot, keeping ids and timestamps and overwriting existing documents.
// Invalid documents are rejected and counted, a store failure aborts the import.
func (a *App) Import(ctx context.Context, snap Snapshot) (ImportResult, error) {
	if snap.Version > snapshotVersion {
		return ImportResult{}, fmt.Errorf("version %d: %w", snap.Version, ErrSnapshotVersion)
	}
	res := ImportResult{Restored: map[enums.Collection]int{}, Rejected: map[enums.Collection]int{}}
	porters := a.porters()
	for _, name := range enums.CollectionValues {
		p := porters[name]
		for _, f := range snap.Collections[name] {
			err := p.restore(ctx, f)
			if err == nil {
				res.Restored[name]++
				continue
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return res, fmt.Errorf("failed to import %s: %w", name, err)
			}
			res.Rejected[name]++
			res.Errors = append(res.Errors, fmt.Sprintf("%s %v: %v", name, f["id"], err))
		}
	}
	return res, nil
}
