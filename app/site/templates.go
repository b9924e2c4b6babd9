package site

import "github.com/umputun/sitemaster/app/enums"

// DefaultLogChecklist is copied into a new daily log when no checklist is given
var DefaultLogChecklist = []string{
	"Site secured",
	"Safety equipment available",
	"Materials delivered",
	"Equipment operational",
	"Permits on site",
}

var templateItems = map[enums.ChecklistType][]string{
	enums.ChecklistSafety: {
		"PPE inspection completed",
		"Fire extinguishers accessible",
		"First aid kit stocked",
		"Emergency exits clear",
		"Safety signage visible",
		"Electrical cords inspected",
		"Scaffolding secured",
		"Fall protection in place",
	},
	enums.ChecklistOpening: {
		"Site secured overnight",
		"Equipment accounted for",
		"Weather conditions assessed",
		"Crew briefing completed",
		"Materials inventory checked",
		"Permits on display",
	},
	enums.ChecklistClosing: {
		"Tools secured",
		"Equipment shut down",
		"Site cleaned",
		"Hazards marked",
		"Security measures activated",
		"Daily log completed",
	},
}

// TemplateItems returns the starter items for a checklist type, custom checklists start empty
func TemplateItems(t enums.ChecklistType) []string {
	return append([]string(nil), templateItems[t]...)
}

// ChecklistEntries copies items into unchecked log entries
func ChecklistEntries(items []string) []ChecklistEntry {
	res := make([]ChecklistEntry, 0, len(items))
	for _, item := range items {
		res = append(res, ChecklistEntry{Item: item})
	}
	return res
}

func entriesFields(entries []ChecklistEntry) []any {
	res := make([]any, 0, len(entries))
	for _, e := range entries {
		res = append(res, map[string]any{"item": e.Item, "checked": e.Checked})
	}
	return res
}
