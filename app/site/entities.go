package site

import (
	"time"

	"github.com/umputun/sitemaster/app/enums"
)

// Meta holds fields assigned by the store, never by the caller
type Meta struct {
	ID        string    `json:"id"`
	Rev       string    `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Meta) meta() *Meta { return m }

// metaKeys are stripped from caller input and kept out of stored bodies
var metaKeys = []string{"id", "_id", "revision", "_rev", "createdAt", "updatedAt"}

// Fields is a loosely typed document used for create input and update patches
type Fields map[string]any

// Job is a construction job, the root aggregate for tasks, orders, logs and time entries
type Job struct {
	Meta
	Name            string          `json:"name"`
	Address         string          `json:"address"`
	Client          string          `json:"client,omitempty"`
	Status          enums.JobStatus `json:"status,omitempty" jsonschema:"enum=active,enum=on-hold,enum=completed"`
	Progress        int             `json:"progress" jsonschema:"minimum=0,maximum=100"`
	StartDate       string          `json:"startDate,omitempty" jsonschema:"format=date"`
	ExpectedEndDate string          `json:"expectedEndDate,omitempty" jsonschema:"format=date"`
	Notes           string          `json:"notes,omitempty"`
}

// Photo is an image attached to a daily log
type Photo struct {
	Data      string `json:"data"`
	Name      string `json:"name,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChecklistEntry is a checklist item copied into a daily log
type ChecklistEntry struct {
	Item    string `json:"item"`
	Checked bool   `json:"checked"`
}

// DailyLog is a per-job diary entry
type DailyLog struct {
	Meta
	JobID              string           `json:"jobId"`
	Date               string           `json:"date" jsonschema:"format=date"`
	Weather            string           `json:"weather,omitempty"`
	Temperature        string           `json:"temperature,omitempty"`
	CrewPresent        []string         `json:"crewPresent,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	SafetyObservations string           `json:"safetyObservations,omitempty"`
	Photos             []Photo          `json:"photos,omitempty"`
	Checklist          []ChecklistEntry `json:"checklist,omitempty"`
	HoursWorked        *float64         `json:"hoursWorked,omitempty"`
}

// Task is a unit of work on a job
type Task struct {
	Meta
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	JobID       string           `json:"jobId"`
	Status      enums.TaskStatus `json:"status,omitempty" jsonschema:"enum=pending,enum=in-progress,enum=blocked,enum=completed"`
	Priority    enums.Priority   `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=urgent"`
	DueDate     string           `json:"dueDate,omitempty" jsonschema:"format=date"`
	AssignedTo  string           `json:"assignedTo,omitempty"`
}

// Order is a material order for a job
type Order struct {
	Meta
	Item             string            `json:"item"`
	Quantity         float64           `json:"quantity,omitempty"`
	Unit             string            `json:"unit,omitempty"`
	JobID            string            `json:"jobId"`
	Status           enums.OrderStatus `json:"status,omitempty" jsonschema:"enum=pending,enum=ordered,enum=shipped,enum=delivered,enum=cancelled"`
	Priority         enums.Priority    `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=urgent"`
	Supplier         string            `json:"supplier,omitempty"`
	ExpectedDelivery string            `json:"expectedDelivery,omitempty" jsonschema:"format=date"`
	Notes            string            `json:"notes,omitempty"`
	Cost             *float64          `json:"cost,omitempty"`
}

// Tool is a tracked tool, optionally assigned to a job
type Tool struct {
	Meta
	Name            string              `json:"name"`
	SerialNumber    string              `json:"serialNumber,omitempty"`
	Category        enums.ToolCategory  `json:"category,omitempty" jsonschema:"enum=power-tools,enum=hand-tools,enum=measuring,enum=safety,enum=heavy-equipment,enum=other"`
	Condition       enums.ToolCondition `json:"condition,omitempty" jsonschema:"enum=new,enum=good,enum=fair,enum=needs-repair,enum=out-of-service"`
	AssignedJobID   string              `json:"assignedJobId,omitempty"`
	LastMaintenance string              `json:"lastMaintenance,omitempty" jsonschema:"format=date"`
	NextMaintenance string              `json:"nextMaintenance,omitempty" jsonschema:"format=date"`
	Notes           string              `json:"notes,omitempty"`
}

// InventoryItem is a stocked material with a minimum-stock threshold
type InventoryItem struct {
	Meta
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	MinStock *float64 `json:"minStock,omitempty"`
	Location string   `json:"location,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// CrewMember is a person on the crew roster
type CrewMember struct {
	Meta
	Name             string `json:"name"`
	Role             string `json:"role,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Email            string `json:"email,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
	EmergencyPhone   string `json:"emergencyPhone,omitempty"`
	Certifications   string `json:"certifications,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// Checklist is a reusable checklist template
type Checklist struct {
	Meta
	Name  string              `json:"name"`
	Type  enums.ChecklistType `json:"type,omitempty" jsonschema:"enum=safety,enum=opening,enum=closing,enum=custom"`
	Items []string            `json:"items,omitempty"`
}

// TimeEntry is hours worked on a job on a given date
type TimeEntry struct {
	Meta
	JobID       string   `json:"jobId"`
	Date        string   `json:"date" jsonschema:"format=date"`
	Hours       *float64 `json:"hours,omitempty"`
	LogID       string   `json:"logId,omitempty"`
	Description string   `json:"description,omitempty"`
}

// HoursValue returns hours or 0 if not set
func (e TimeEntry) HoursValue() float64 {
	if e.Hours == nil {
		return 0
	}
	return *e.Hours
}

// QuantityValue returns quantity or 0 if not set
func (i InventoryItem) QuantityValue() float64 {
	if i.Quantity == nil {
		return 0
	}
	return *i.Quantity
}

// MinStockValue returns the minimum stock threshold, DefaultMinStock if not set
func (i InventoryItem) MinStockValue() float64 {
	if i.MinStock == nil {
		return DefaultMinStock
	}
	return *i.MinStock
}

// IsActive reports whether the job counts as active, status not set is active
func (j Job) IsActive() bool {
	return j.Status == enums.JobStatusActive || j.Status == ""
}

// Prototype returns a zero value pointer of the entity stored in the collection, nil for unknown
func Prototype(c enums.Collection) any {
	switch c {
	case enums.CollectionJobs:
		return &Job{}
	case enums.CollectionLogs:
		return &DailyLog{}
	case enums.CollectionTasks:
		return &Task{}
	case enums.CollectionOrders:
		return &Order{}
	case enums.CollectionTools:
		return &Tool{}
	case enums.CollectionInventory:
		return &InventoryItem{}
	case enums.CollectionCrew:
		return &CrewMember{}
	case enums.CollectionChecklists:
		return &Checklist{}
	case enums.CollectionTimeEntries:
		return &TimeEntry{}
	case enums.CollectionSettings:
		return &Settings{}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
