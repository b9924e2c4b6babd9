package site

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/umputun/sitemaster/app/enums"
)

const dateLayout = "2006-01-02"

// urgentDays is the horizon for urgent tasks, overdue tasks are urgent too
const urgentDays = 2

// DashboardStats is a read-only aggregate over all collections, recomputed on every call
type DashboardStats struct {
	ActiveJobs     int     `json:"activeJobs"`
	TotalJobs      int     `json:"totalJobs"`
	CompletedTasks int     `json:"completedTasks"`
	TotalTasks     int     `json:"totalTasks"`
	PendingOrders  int     `json:"pendingOrders"`
	ToolsAvailable int     `json:"toolsAvailable"`
	TotalTools     int     `json:"totalTools"`
	HoursThisWeek  float64 `json:"hoursThisWeek"`
	UrgentTasks    int     `json:"urgentTasks"`
	LowStockItems  int     `json:"lowStockItems"`
}

// snapshot is a consistent-enough view of the collections used by aggregates
type snapshot struct {
	jobs      []Job
	tasks     []Task
	orders    []Order
	tools     []Tool
	entries   []TimeEntry
	inventory []InventoryItem
}

func (a *App) loadSnapshot(ctx context.Context) (snapshot, error) {
	var s snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.jobs, err = a.Jobs.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.tasks, err = a.Tasks.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.orders, err = a.Orders.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.tools, err = a.Tools.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.entries, err = a.TimeEntries.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.inventory, err = a.Inventory.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return s, nil
}

// DashboardStats computes dashboard counters
func (a *App) DashboardStats(ctx context.Context) (DashboardStats, error) {
	s, err := a.loadSnapshot(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	now := a.now()
	weekStart := WeekStart(now)

	res := DashboardStats{TotalJobs: len(s.jobs), TotalTasks: len(s.tasks), TotalTools: len(s.tools)}
	for _, j := range s.jobs {
		if j.IsActive() {
			res.ActiveJobs++
		}
	}
	for _, t := range s.tasks {
		if t.Status == enums.TaskStatusCompleted {
			res.CompletedTasks++
			continue
		}
		if isUrgent(t, now) {
			res.UrgentTasks++
		}
	}
	for _, o := range s.orders {
		if o.Status == enums.OrderStatusPending {
			res.PendingOrders++
		}
	}
	for _, t := range s.tools {
		if t.AssignedJobID == "" {
			res.ToolsAvailable++
		}
	}
	res.HoursThisWeek = hoursSince(s.entries, weekStart, now.Location())
	for _, i := range s.inventory {
		if i.QuantityValue() <= i.MinStockValue() {
			res.LowStockItems++
		}
	}
	return res, nil
}

// WeekStart returns Sunday 00:00 of the week containing t, in t's location
func WeekStart(t time.Time) time.Time {
	d := t.AddDate(0, 0, -int(t.Weekday()))
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}

// PriorityFromDueDate derives priority from a due date: overdue or within 2 days is urgent,
// within 7 days high, within 14 days medium, otherwise low. Missing or malformed dates are low.
func PriorityFromDueDate(due string, now time.Time) enums.Priority {
	days, ok := DaysUntil(due, now)
	switch {
	case !ok:
		return enums.PriorityLow
	case days <= urgentDays:
		return enums.PriorityUrgent
	case days <= 7:
		return enums.PriorityHigh
	case days <= 14:
		return enums.PriorityMedium
	}
	return enums.PriorityLow
}

// DaysUntil returns number of whole calendar days from now to the date, negative if past
func DaysUntil(date string, now time.Time) (int, bool) {
	d, ok := parseDate(date, now.Location())
	if !ok {
		return 0, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	due := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
	return int(math.Round(due.Sub(today).Hours() / 24)), true
}

func isUrgent(t Task, now time.Time) bool {
	if t.Status == enums.TaskStatusCompleted {
		return false
	}
	days, ok := DaysUntil(t.DueDate, now)
	return ok && days <= urgentDays
}

// hoursSince sums hours of entries dated on or after since
func hoursSince(entries []TimeEntry, since time.Time, loc *time.Location) float64 {
	var total float64
	for _, e := range entries {
		d, ok := parseDate(e.Date, loc)
		if !ok || d.Before(since) {
			continue
		}
		total += e.HoursValue()
	}
	return total
}

// parseDate accepts yyyy-mm-dd, taken as midnight in loc, or a full RFC3339 timestamp
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	return time.Time{}, false
}
