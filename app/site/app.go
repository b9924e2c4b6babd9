package site

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/umputun/sitemaster/app/enums"
)

// App holds every collection repository, created once at startup
type App struct {
	Jobs        *Jobs
	Logs        *Logs
	Tasks       *Tasks
	Orders      *Orders
	Tools       *Tools
	Inventory   *Inventory
	Crew        *Crew
	Checklists  *Checklists
	TimeEntries *TimeEntries
	Settings    *SettingsRepo

	now func() time.Time
}

// Params customizes App, zero value uses the wall clock and random uuids
type Params struct {
	Now   func() time.Time
	NewID func() string
}

// New makes App on top of the store
func New(st Store, p Params) *App {
	now, newID := p.Now, p.NewID
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &App{
		Jobs:        &Jobs{newCollection[Job](enums.CollectionJobs, st, now, newID)},
		Logs:        &Logs{newCollection[DailyLog](enums.CollectionLogs, st, now, newID)},
		Tasks:       &Tasks{newCollection[Task](enums.CollectionTasks, st, now, newID)},
		Orders:      &Orders{newCollection[Order](enums.CollectionOrders, st, now, newID)},
		Tools:       &Tools{newCollection[Tool](enums.CollectionTools, st, now, newID)},
		Inventory:   &Inventory{newCollection[InventoryItem](enums.CollectionInventory, st, now, newID)},
		Crew:        &Crew{newCollection[CrewMember](enums.CollectionCrew, st, now, newID)},
		Checklists:  &Checklists{newCollection[Checklist](enums.CollectionChecklists, st, now, newID)},
		TimeEntries: &TimeEntries{newCollection[TimeEntry](enums.CollectionTimeEntries, st, now, newID)},
		Settings:    &SettingsRepo{store: st, now: now},
		now:         now,
	}
}

// DayRecord is a daily log and the time entry created from its hours
type DayRecord struct {
	Log       DailyLog   `json:"log"`
	TimeEntry *TimeEntry `json:"timeEntry,omitempty"`
}

// RecordDay creates a daily log and, when hoursWorked is positive, a time entry linked to it.
// A non-empty checklistID copies that checklist's items into the log. The two writes are independent,
// if the time entry fails the log is kept and returned together with the error.
func (a *App) RecordDay(ctx context.Context, fields Fields, checklistID string) (DayRecord, error) {
	f := cloneFields(fields)
	if checklistID != "" {
		cl, err := a.Checklists.Get(ctx, checklistID)
		if err != nil {
			return DayRecord{}, err
		}
		f["checklist"] = entriesFields(ChecklistEntries(cl.Items))
	}

	dl, err := a.Logs.CreateFields(ctx, f)
	if err != nil {
		return DayRecord{}, err
	}
	res := DayRecord{Log: dl}
	if dl.HoursWorked == nil || *dl.HoursWorked <= 0 {
		return res, nil
	}

	entry, err := a.TimeEntries.Create(ctx, TimeEntry{JobID: dl.JobID, Date: dl.Date, Hours: ptr(*dl.HoursWorked),
		LogID: dl.ID})
	if err != nil {
		return res, fmt.Errorf("log %s created without time entry: %w", dl.ID, err)
	}
	res.TimeEntry = &entry
	return res, nil
}
