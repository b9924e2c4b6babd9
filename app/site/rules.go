package site

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/umputun/sitemaster/app/enums"
)

// DefaultMinStock is the low-stock threshold used when an inventory item has no minStock
const DefaultMinStock = 10

// rule describes per-collection validation, sanitization and defaults
type rule struct {
	required  []string
	sanitized []string
	numeric   []string // accepted as json numbers or numeric strings
	bounds    []bound
	defaults  func() Fields // called per create, so mutable defaults are never shared
}

// bound is an inclusive range for a numeric field
type bound struct {
	field    string
	min, max float64
}

var rules = map[enums.Collection]rule{
	enums.CollectionJobs: {
		required:  []string{"name", "address"},
		sanitized: []string{"name", "address", "client", "notes"},
		numeric:   []string{"progress"},
		bounds:    []bound{{field: "progress", min: 0, max: 100}},
		defaults:  func() Fields { return Fields{"status": string(enums.JobStatusActive), "progress": 0} },
	},
	enums.CollectionLogs: {
		required:  []string{"jobId", "date"},
		sanitized: []string{"notes", "safetyObservations", "weather"},
		numeric:   []string{"hoursWorked"},
		defaults: func() Fields {
			return Fields{"hoursWorked": 8, "checklist": entriesFields(ChecklistEntries(DefaultLogChecklist))}
		},
	},
	enums.CollectionTasks: {
		required:  []string{"title", "jobId"},
		sanitized: []string{"title", "description", "assignedTo"},
		defaults: func() Fields {
			return Fields{"status": string(enums.TaskStatusPending), "priority": string(enums.PriorityMedium)}
		},
	},
	enums.CollectionOrders: {
		required:  []string{"item", "jobId"},
		sanitized: []string{"item", "supplier", "notes", "unit"},
		numeric:   []string{"quantity", "cost"},
		defaults: func() Fields {
			return Fields{"status": string(enums.OrderStatusPending), "quantity": 1, "priority": string(enums.PriorityMedium)}
		},
	},
	enums.CollectionTools: {
		required:  []string{"name"},
		sanitized: []string{"name", "serialNumber", "notes"},
		defaults:  func() Fields { return Fields{"condition": string(enums.ToolConditionGood)} },
	},
	enums.CollectionInventory: {
		required:  []string{"name", "quantity"},
		sanitized: []string{"name", "location", "notes", "unit"},
		numeric:   []string{"quantity", "minStock"},
		defaults:  func() Fields { return Fields{"category": "materials", "minStock": DefaultMinStock} },
	},
	enums.CollectionCrew: {
		required: []string{"name"},
		sanitized: []string{"name", "role", "phone", "email", "emergencyContact", "emergencyPhone",
			"certifications", "notes"},
	},
	enums.CollectionChecklists: {
		required:  []string{"name"},
		sanitized: []string{"name", "items"},
		defaults:  func() Fields { return Fields{"type": string(enums.ChecklistCustom)} },
	},
	enums.CollectionTimeEntries: {
		required:  []string{"jobId", "date", "hours"},
		sanitized: []string{"description"},
		numeric:   []string{"hours"},
	},
}

// RequiredFields returns the fields that must be present and non-blank on create
func RequiredFields(c enums.Collection) []string {
	return append([]string(nil), rules[c].required...)
}

// validateRequired collects a violation for every missing or blank required field
func validateRequired(c enums.Collection, required []string, f Fields) error {
	var violations []Violation
	for _, name := range required {
		if isBlank(f[name]) {
			violations = append(violations, Violation{Field: name, Reason: "is required"})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Collection: c, Violations: violations}
}

// isBlank reports absent, null, empty or whitespace-only strings and empty arrays. Numbers and bools are never
// blank, so unlike a falsy check a required quantity or hours of 0 passes.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// coerceNumbers converts numeric strings of the listed fields to numbers. An empty string unsets the field,
// anything else that does not parse is a violation.
func coerceNumbers(c enums.Collection, names []string, f Fields) error {
	var violations []Violation
	for _, name := range names {
		s, ok := f[name].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			f[name] = nil
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			violations = append(violations, Violation{Field: name, Reason: "must be a number"})
			continue
		}
		f[name] = v
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Collection: c, Violations: violations}
}

// checkBounds collects a violation for every present numeric field outside its range
func checkBounds(c enums.Collection, bounds []bound, f Fields) error {
	var violations []Violation
	for _, b := range bounds {
		v, ok := number(f[b.field])
		if !ok {
			continue
		}
		if v < b.min || v > b.max {
			violations = append(violations, Violation{Field: b.field, Reason: fmt.Sprintf("must be between %g and %g", b.min, b.max)})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Collection: c, Violations: violations}
}

func number(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	return 0, false
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#x27;")

// Sanitize escapes characters with special meaning in html
func Sanitize(s string) string { return htmlReplacer.Replace(s) }

// sanitizeFields escapes listed string fields in place, string arrays are escaped element-wise
func sanitizeFields(f Fields, names []string) {
	for _, name := range names {
		switch val := f[name].(type) {
		case string:
			f[name] = Sanitize(val)
		case []any:
			res := make([]any, len(val))
			for i, item := range val {
				if s, ok := item.(string); ok {
					res[i] = Sanitize(s)
					continue
				}
				res[i] = item
			}
			f[name] = res
		case []string:
			res := make([]string, len(val))
			for i, s := range val {
				res[i] = Sanitize(s)
			}
			f[name] = res
		}
	}
}

// applyDefaults sets default values for absent or null fields
func applyDefaults(f Fields, defaults func() Fields) {
	if defaults == nil {
		return
	}
	for k, v := range defaults() {
		if cur, ok := f[k]; !ok || cur == nil {
			f[k] = v
		}
	}
}

func stripMeta(f Fields) {
	for _, k := range metaKeys {
		delete(f, k)
	}
}

var htmlUnreplacer = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#x27;", "'")

// Unsanitize reverses Sanitize
func Unsanitize(s string) string { return htmlUnreplacer.Replace(s) }
