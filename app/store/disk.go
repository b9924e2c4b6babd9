package store

import (
	"context"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/disk"
)

// ErrNoSpace is returned when free disk space is below the configured minimum
var ErrNoSpace = errors.New("not enough free disk space")

// DiskUsage reports usage of the file system holding path
type DiskUsage struct {
	Path        string  `json:"path"`
	Free        uint64  `json:"free"`
	Total       uint64  `json:"total"`
	UsedPercent float64 `json:"usedPercent"`
}

// Usage returns disk usage for path
func Usage(ctx context.Context, path string) (DiskUsage, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("failed to get disk usage for %s: %w", path, err)
	}
	return DiskUsage{Path: path, Free: u.Free, Total: u.Total, UsedPercent: u.UsedPercent}, nil
}

// DiskGuard makes a write guard rejecting writes when free space on dir is below minFree bytes.
// Failure to read disk usage is logged and does not block writes.
func DiskGuard(dir string, minFree uint64) Guard {
	return func(ctx context.Context) error {
		if minFree == 0 {
			return nil
		}
		u, err := Usage(ctx, dir)
		if err != nil {
			log.Printf("[WARN] disk guard skipped, %v", err)
			return nil
		}
		if u.Free < minFree {
			return fmt.Errorf("%d bytes free on %s, required %d: %w", u.Free, dir, minFree, ErrNoSpace)
		}
		return nil
	}
}
