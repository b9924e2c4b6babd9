package site

import (
	"context"
	"fmt"

	"github.com/umputun/sitemaster/app/enums"
)

// Jobs is the jobs collection
type Jobs struct{ *Collection[Job, *Job] }

// Logs is the daily logs collection
type Logs struct{ *Collection[DailyLog, *DailyLog] }

// ByJob returns logs of the job
func (l *Logs) ByJob(ctx context.Context, jobID string) ([]DailyLog, error) {
	return l.Query(ctx, func(v DailyLog) bool { return v.JobID == jobID })
}

// ByDate returns logs for the date, yyyy-mm-dd
func (l *Logs) ByDate(ctx context.Context, date string) ([]DailyLog, error) {
	return l.Query(ctx, func(v DailyLog) bool { return v.Date == date })
}

// Tasks is the tasks collection
type Tasks struct{ *Collection[Task, *Task] }

// ByJob returns tasks of the job
func (t *Tasks) ByJob(ctx context.Context, jobID string) ([]Task, error) {
	return t.Query(ctx, func(v Task) bool { return v.JobID == jobID })
}

// ByStatus returns tasks with the status
func (t *Tasks) ByStatus(ctx context.Context, status enums.TaskStatus) ([]Task, error) {
	return t.Query(ctx, func(v Task) bool { return v.Status == status })
}

// ByPriority returns tasks with the priority
func (t *Tasks) ByPriority(ctx context.Context, p enums.Priority) ([]Task, error) {
	return t.Query(ctx, func(v Task) bool { return v.Priority == p })
}

// Orders is the material orders collection
type Orders struct{ *Collection[Order, *Order] }

// ByJob returns orders of the job
func (o *Orders) ByJob(ctx context.Context, jobID string) ([]Order, error) {
	return o.Query(ctx, func(v Order) bool { return v.JobID == jobID })
}

// Pending returns orders with pending status
func (o *Orders) Pending(ctx context.Context) ([]Order, error) {
	return o.Query(ctx, func(v Order) bool { return v.Status == enums.OrderStatusPending })
}

// Tools is the tools collection
type Tools struct{ *Collection[Tool, *Tool] }

// ByJob returns tools assigned to the job
func (t *Tools) ByJob(ctx context.Context, jobID string) ([]Tool, error) {
	return t.Query(ctx, func(v Tool) bool { return v.AssignedJobID == jobID })
}

// Unassigned returns tools not assigned to any job
func (t *Tools) Unassigned(ctx context.Context) ([]Tool, error) {
	return t.Query(ctx, func(v Tool) bool { return v.AssignedJobID == "" })
}

// MaintenanceDue returns tools with next maintenance on or before date, yyyy-mm-dd
func (t *Tools) MaintenanceDue(ctx context.Context, date string) ([]Tool, error) {
	return t.Query(ctx, func(v Tool) bool { return v.NextMaintenance != "" && v.NextMaintenance <= date })
}

// Inventory is the inventory collection
type Inventory struct{ *Collection[InventoryItem, *InventoryItem] }

// LowStock returns items with quantity at or below their own minimum stock
func (i *Inventory) LowStock(ctx context.Context) ([]InventoryItem, error) {
	return i.Query(ctx, func(v InventoryItem) bool { return v.QuantityValue() <= v.MinStockValue() })
}

// BelowThreshold returns items with quantity at or below threshold
func (i *Inventory) BelowThreshold(ctx context.Context, threshold float64) ([]InventoryItem, error) {
	return i.Query(ctx, func(v InventoryItem) bool { return v.QuantityValue() <= threshold })
}

// Crew is the crew roster collection
type Crew struct{ *Collection[CrewMember, *CrewMember] }

// Checklists is the checklist templates collection
type Checklists struct{ *Collection[Checklist, *Checklist] }

// Duplicate creates a copy of the checklist named "<name> (Copy)"
func (c *Checklists) Duplicate(ctx context.Context, id string) (Checklist, error) {
	src, err := c.Get(ctx, id)
	if err != nil {
		return Checklist{}, err
	}
	// stored values are already escaped, unescape so the copy is not escaped twice
	items := make([]string, 0, len(src.Items))
	for _, item := range src.Items {
		items = append(items, Unsanitize(item))
	}
	return c.Create(ctx, Checklist{Name: Unsanitize(src.Name) + " (Copy)", Type: src.Type, Items: items})
}

// CreateFromTemplate creates a checklist with the starter items of its type
func (c *Checklists) CreateFromTemplate(ctx context.Context, name string, t enums.ChecklistType) (Checklist, error) {
	if !enums.IsValid(t, enums.ChecklistTypeValues) {
		return Checklist{}, &ValidationError{Collection: c.name,
			Violations: []Violation{{Field: "type", Reason: fmt.Sprintf("must be one of %v", enums.ChecklistTypeValues)}}}
	}
	return c.Create(ctx, Checklist{Name: name, Type: t, Items: TemplateItems(t)})
}

// TimeEntries is the time entries collection
type TimeEntries struct{ *Collection[TimeEntry, *TimeEntry] }

// ByJob returns time entries of the job
func (t *TimeEntries) ByJob(ctx context.Context, jobID string) ([]TimeEntry, error) {
	return t.Query(ctx, func(v TimeEntry) bool { return v.JobID == jobID })
}

// ByDateRange returns entries with date between from and to inclusive, empty bound is open
func (t *TimeEntries) ByDateRange(ctx context.Context, from, to string) ([]TimeEntry, error) {
	return t.Query(ctx, func(v TimeEntry) bool {
		return (from == "" || v.Date >= from) && (to == "" || v.Date <= to)
	})
}
