package site

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitemaster/app/enums"
)

func TestPriorityFromDueDate(t *testing.T) {
	tbl := []struct {
		due  string
		want enums.Priority
	}{
		{"", enums.PriorityLow},
		{"not a date", enums.PriorityLow},
		{"2024-05-10", enums.PriorityUrgent},
		{"2024-05-15", enums.PriorityUrgent},
		{"2024-05-16", enums.PriorityUrgent},
		{"2024-05-17", enums.PriorityUrgent},
		{"2024-05-18", enums.PriorityHigh},
		{"2024-05-22", enums.PriorityHigh},
		{"2024-05-23", enums.PriorityMedium},
		{"2024-05-29", enums.PriorityMedium},
		{"2024-05-30", enums.PriorityLow},
		{testNow.AddDate(0, 0, 1).Format(time.RFC3339), enums.PriorityUrgent},
	}
	for _, tt := range tbl {
		t.Run(tt.due, func(t *testing.T) {
			assert.Equal(t, tt.want, PriorityFromDueDate(tt.due, testNow))
		})
	}
}

func TestWeekStart(t *testing.T) {
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.Local), WeekStart(testNow))
	sunday := time.Date(2024, 5, 12, 23, 59, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.Local), WeekStart(sunday))
	saturday := time.Date(2024, 5, 18, 1, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.Local), WeekStart(saturday))
}

func TestTaskDueTomorrowIsUrgent(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	ctx := t.Context()

	job, err := app.Jobs.Create(ctx, Job{Name: "Tower A", Address: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, 0, job.Progress)

	task, err := app.Tasks.Create(ctx, Task{Title: "Pour", JobID: job.ID, DueDate: testNow.AddDate(0, 0, 1).Format("2006-01-02")})
	require.NoError(t, err)
	assert.Equal(t, enums.PriorityUrgent, PriorityFromDueDate(task.DueDate, testNow))
}

func seedStats(t *testing.T, app *App) (jobA Job) {
	t.Helper()
	ctx := t.Context()

	jobA, err := app.Jobs.Create(ctx, Job{Name: "A", Address: "a", ExpectedEndDate: "2024-06-30"})
	require.NoError(t, err)
	_, err = app.Jobs.Create(ctx, Job{Name: "B", Address: "b", Status: enums.JobStatusOnHold})
	require.NoError(t, err)
	_, err = app.Jobs.Create(ctx, Job{Name: "C", Address: "c", Status: enums.JobStatusCompleted, Progress: 100})
	require.NoError(t, err)
	_, err = app.Jobs.CreateFields(ctx, Fields{"name": "D", "address": "d", "status": ""})
	require.NoError(t, err)

	tasks := []Task{
		{Title: "t1", JobID: jobA.ID, DueDate: "2024-05-16"},
		{Title: "t2", JobID: jobA.ID, DueDate: "2024-05-14", Status: enums.TaskStatusInProgress, Priority: enums.PriorityHigh},
		{Title: "t3", JobID: "other", DueDate: "2024-05-17"},
		{Title: "t4", JobID: jobA.ID, DueDate: "2024-05-18", Priority: enums.PriorityUrgent},
		{Title: "t5", JobID: jobA.ID, DueDate: "2024-05-15", Status: enums.TaskStatusCompleted, Priority: enums.PriorityUrgent},
		{Title: "t6", JobID: "other"},
	}
	for _, tk := range tasks {
		_, err = app.Tasks.Create(ctx, tk)
		require.NoError(t, err)
	}

	for _, o := range []Order{{Item: "o1", JobID: jobA.ID}, {Item: "o2", JobID: "other"},
		{Item: "o3", JobID: jobA.ID, Status: enums.OrderStatusOrdered}} {
		_, err = app.Orders.Create(ctx, o)
		require.NoError(t, err)
	}
	for _, tl := range []Tool{{Name: "drill", AssignedJobID: jobA.ID}, {Name: "saw"}, {Name: "level"}} {
		_, err = app.Tools.Create(ctx, tl)
		require.NoError(t, err)
	}
	entries := []TimeEntry{
		{JobID: jobA.ID, Date: "2024-05-11", Hours: ptr(8.0)},
		{JobID: jobA.ID, Date: "2024-05-12", Hours: ptr(4.0)},
		{JobID: "other", Date: "2024-05-15", Hours: ptr(3.5)},
		{JobID: jobA.ID, Date: "2024-05-20", Hours: ptr(2.0)},
		{JobID: jobA.ID, Date: "bad", Hours: ptr(100.0)},
	}
	for _, e := range entries {
		_, err = app.TimeEntries.Create(ctx, e)
		require.NoError(t, err)
	}
	_, err = app.Inventory.Create(ctx, InventoryItem{Name: "nails", Quantity: ptr(1.0)})
	require.NoError(t, err)
	_, err = app.Inventory.Create(ctx, InventoryItem{Name: "screws", Quantity: ptr(100.0)})
	require.NoError(t, err)
	return jobA
}

func TestApp_DashboardStats(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	seedStats(t, app)

	stats, err := app.DashboardStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{
		ActiveJobs:     2,
		TotalJobs:      4,
		CompletedTasks: 1,
		TotalTasks:     6,
		PendingOrders:  2,
		ToolsAvailable: 2,
		TotalTools:     3,
		HoursThisWeek:  9.5,
		UrgentTasks:    3,
		LowStockItems:  1,
	}, stats)
}

func TestApp_DashboardStatsEmpty(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	stats, err := app.DashboardStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{}, stats)
}

func TestApp_JobSummary(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	jobA := seedStats(t, app)

	sum, err := app.JobSummary(t.Context(), jobA.ID)
	require.NoError(t, err)
	assert.Equal(t, jobA.ID, sum.Job.ID)
	assert.Equal(t, 3, sum.ActiveTasks)
	assert.Equal(t, 2, sum.HighPriorityTasks)
	assert.Equal(t, 1, sum.PendingOrders)
	assert.Equal(t, 1, sum.AssignedTools)
	assert.InDelta(t, 6.0, sum.HoursThisWeek, 0.001)
	assert.Equal(t, "2024-05-14", sum.NearestDeadline)
	assert.Equal(t, enums.PriorityUrgent, sum.Priority)

	_, err = app.JobSummary(t.Context(), "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	all, err := app.JobSummaries(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, sum.Job.ID, all[0].Job.ID)
	assert.Equal(t, enums.PriorityLow, all[2].Priority, "completed job without tasks")
}

func TestApp_Report(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	seedStats(t, app)
	for i := range 6 {
		_, err := app.Jobs.Create(t.Context(), Job{Name: fmt.Sprintf("extra-%d", i), Address: "x", Progress: i * 10})
		require.NoError(t, err)
	}

	rep, err := app.Report(t.Context())
	require.NoError(t, err)

	require.Len(t, rep.DailyHours, 14)
	assert.Equal(t, "2024-05-02", rep.DailyHours[0].Date)
	assert.Equal(t, DayHours{Date: "2024-05-15", Hours: 3.5}, rep.DailyHours[13])
	assert.Equal(t, DayHours{Date: "2024-05-12", Hours: 4}, rep.DailyHours[10])

	require.Len(t, rep.JobProgress, 8)
	assert.Equal(t, "A", rep.JobProgress[0].Name)
	assert.Equal(t, 100, rep.JobProgress[2].Progress)
	assert.Equal(t, "extra-3", rep.JobProgress[7].Name)

	assert.Equal(t, map[enums.TaskStatus]int{enums.TaskStatusPending: 4, enums.TaskStatusInProgress: 1,
		enums.TaskStatusBlocked: 0, enums.TaskStatusCompleted: 1}, rep.TaskStatus)
}
