// Package enums provides closed value sets used by site entities.
//
// Every type is a string type, so values are stored and rendered as-is in JSON documents.
// Parse functions reject unknown values, IsValid reports membership without allocating errors.
// Empty string is never a valid value, callers apply defaults before validation.
package enums

import (
	"fmt"
	"strings"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// job statuses
const (
	JobStatusActive    JobStatus = "active"
	JobStatusOnHold    JobStatus = "on-hold"
	JobStatusCompleted JobStatus = "completed"
)

// JobStatusValues lists all job statuses
var JobStatusValues = []JobStatus{JobStatusActive, JobStatusOnHold, JobStatusCompleted}

// TaskStatus is the state of a task
type TaskStatus string

// task statuses
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
)

// TaskStatusValues lists all task statuses
var TaskStatusValues = []TaskStatus{TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted}

// Priority is a task or order priority, also used for priority derived from a due date
type Priority string

// priorities, ordered from lowest to highest
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityValues lists all priorities
var PriorityValues = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Rank returns position of the priority, higher is more important, -1 for unknown
func (p Priority) Rank() int {
	for i, v := range PriorityValues {
		if v == p {
			return i
		}
	}
	return -1
}

// OrderStatus is the state of a material order
type OrderStatus string

// order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOrdered   OrderStatus = "ordered"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatusValues lists all order statuses
var OrderStatusValues = []OrderStatus{OrderStatusPending, OrderStatusOrdered, OrderStatusShipped,
	OrderStatusDelivered, OrderStatusCancelled}

// ToolCategory groups tools
type ToolCategory string

// tool categories
const (
	ToolCategoryPower          ToolCategory = "power-tools"
	ToolCategoryHand           ToolCategory = "hand-tools"
	ToolCategoryMeasuring      ToolCategory = "measuring"
	ToolCategorySafety         ToolCategory = "safety"
	ToolCategoryHeavyEquipment ToolCategory = "heavy-equipment"
	ToolCategoryOther          ToolCategory = "other"
)

// ToolCategoryValues lists all tool categories
var ToolCategoryValues = []ToolCategory{ToolCategoryPower, ToolCategoryHand, ToolCategoryMeasuring,
	ToolCategorySafety, ToolCategoryHeavyEquipment, ToolCategoryOther}

// ToolCondition is the physical condition of a tool
type ToolCondition string

// tool conditions
const (
	ToolConditionNew          ToolCondition = "new"
	ToolConditionGood         ToolCondition = "good"
	ToolConditionFair         ToolCondition = "fair"
	ToolConditionNeedsRepair  ToolCondition = "needs-repair"
	ToolConditionOutOfService ToolCondition = "out-of-service"
)

// ToolConditionValues lists all tool conditions
var ToolConditionValues = []ToolCondition{ToolConditionNew, ToolConditionGood, ToolConditionFair,
	ToolConditionNeedsRepair, ToolConditionOutOfService}

// ChecklistType is the kind of checklist template
type ChecklistType string

// checklist types
const (
	ChecklistSafety  ChecklistType = "safety"
	ChecklistOpening ChecklistType = "opening"
	ChecklistClosing ChecklistType = "closing"
	ChecklistCustom  ChecklistType = "custom"
)

// ChecklistTypeValues lists all checklist types
var ChecklistTypeValues = []ChecklistType{ChecklistSafety, ChecklistOpening, ChecklistClosing, ChecklistCustom}

// Collection names a document collection
type Collection string

// collections, names are stable and used as store keys and api path segments
const (
	CollectionJobs        Collection = "jobs"
	CollectionLogs        Collection = "logs"
	CollectionTasks       Collection = "tasks"
	CollectionOrders      Collection = "orders"
	CollectionTools       Collection = "tools"
	CollectionInventory   Collection = "inventory"
	CollectionCrew        Collection = "crew"
	CollectionChecklists  Collection = "checklists"
	CollectionTimeEntries Collection = "timeEntries"
	CollectionSettings    Collection = "settings"
)

// EntityCollections lists the nine entity collections, settings excluded
var EntityCollections = []Collection{CollectionJobs, CollectionLogs, CollectionTasks, CollectionOrders,
	CollectionTools, CollectionInventory, CollectionCrew, CollectionChecklists, CollectionTimeEntries}

// CollectionValues lists every collection including settings
var CollectionValues = append(append([]Collection{}, EntityCollections...), CollectionSettings)

// ExportFormat is the encoding of a snapshot export
type ExportFormat string

// export formats
const (
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

// ExportFormatValues lists all export formats
var ExportFormatValues = []ExportFormat{ExportJSON, ExportYAML}

// ParseJobStatus converts string to JobStatus
func ParseJobStatus(s string) (JobStatus, error) { return parse("job status", s, JobStatusValues) }

// ParseTaskStatus converts string to TaskStatus
func ParseTaskStatus(s string) (TaskStatus, error) { return parse("task status", s, TaskStatusValues) }

// ParsePriority converts string to Priority
func ParsePriority(s string) (Priority, error) { return parse("priority", s, PriorityValues) }

// ParseOrderStatus converts string to OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) { return parse("order status", s, OrderStatusValues) }

// ParseToolCategory converts string to ToolCategory
func ParseToolCategory(s string) (ToolCategory, error) {
	return parse("tool category", s, ToolCategoryValues)
}

// ParseToolCondition converts string to ToolCondition
func ParseToolCondition(s string) (ToolCondition, error) {
	return parse("tool condition", s, ToolConditionValues)
}

// ParseChecklistType converts string to ChecklistType
func ParseChecklistType(s string) (ChecklistType, error) {
	return parse("checklist type", s, ChecklistTypeValues)
}

// ParseCollection converts string to Collection
func ParseCollection(s string) (Collection, error) { return parse("collection", s, CollectionValues) }

// ParseExportFormat converts string to ExportFormat, empty string means json
func ParseExportFormat(s string) (ExportFormat, error) {
	if s == "" {
		return ExportJSON, nil
	}
	return parse("export format", strings.ToLower(s), ExportFormatValues)
}

// IsValid reports whether v is one of values
func IsValid[T ~string](v T, values []T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Strings converts values to plain strings, used for schema enums and error messages
func Strings[T ~string](values []T) []string {
	res := make([]string, len(values))
	for i, v := range values {
		res[i] = string(v)
	}
	return res
}

func parse[T ~string](name, s string, values []T) (T, error) {
	if IsValid(T(s), values) {
		return T(s), nil
	}
	return "", fmt.Errorf("invalid %s %q, expected one of [%s]", name, s, strings.Join(Strings(values), ", "))
}
