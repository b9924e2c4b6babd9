package site

import (
	"context"
	"time"

	"github.com/umputun/sitemaster/app/enums"
)

const (
	reportDays = 14 // days covered by the hours chart, today included
	reportJobs = 8  // jobs shown in the progress chart
)

// JobSummary is the per-job rollup shown on job cards
type JobSummary struct {
	Job               Job            `json:"job"`
	ActiveTasks       int            `json:"activeTasks"`
	HighPriorityTasks int            `json:"highPriorityTasks"`
	PendingOrders     int            `json:"pendingOrders"`
	AssignedTools     int            `json:"assignedTools"`
	HoursThisWeek     float64        `json:"hoursThisWeek"`
	NearestDeadline   string         `json:"nearestDeadline,omitempty"`
	Priority          enums.Priority `json:"priority"`
}

// DayHours is total hours logged on a date
type DayHours struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
}

// JobProgress is a job's progress percentage
type JobProgress struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Progress int    `json:"progress"`
}

// Report holds chart data: daily hours, job progress and task counts by status
type Report struct {
	DailyHours  []DayHours               `json:"dailyHours"`
	JobProgress []JobProgress            `json:"jobProgress"`
	TaskStatus  map[enums.TaskStatus]int `json:"taskStatus"`
}

// JobSummary returns the rollup for one job
func (a *App) JobSummary(ctx context.Context, jobID string) (JobSummary, error) {
	job, err := a.Jobs.Get(ctx, jobID)
	if err != nil {
		return JobSummary{}, err
	}
	s, err := a.loadSnapshot(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	return summarize(job, s, a.now()), nil
}

// JobSummaries returns rollups for all jobs in collection order
func (a *App) JobSummaries(ctx context.Context) ([]JobSummary, error) {
	s, err := a.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	res := make([]JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		res = append(res, summarize(j, s, now))
	}
	return res, nil
}

func summarize(job Job, s snapshot, now time.Time) JobSummary {
	res := JobSummary{Job: job}
	nearest, nearestDays := "", 0
	consider := func(date string) {
		days, ok := DaysUntil(date, now)
		if !ok {
			return
		}
		if nearest == "" || days < nearestDays {
			nearest, nearestDays = date, days
		}
	}

	for _, t := range s.tasks {
		if t.JobID != job.ID || t.Status == enums.TaskStatusCompleted {
			continue
		}
		res.ActiveTasks++
		if t.Priority == enums.PriorityHigh || t.Priority == enums.PriorityUrgent {
			res.HighPriorityTasks++
		}
		consider(t.DueDate)
	}
	if job.Status != enums.JobStatusCompleted {
		consider(job.ExpectedEndDate)
	}
	for _, o := range s.orders {
		if o.JobID == job.ID && o.Status == enums.OrderStatusPending {
			res.PendingOrders++
		}
	}
	for _, t := range s.tools {
		if t.AssignedJobID == job.ID {
			res.AssignedTools++
		}
	}
	var entries []TimeEntry
	for _, e := range s.entries {
		if e.JobID == job.ID {
			entries = append(entries, e)
		}
	}
	res.HoursThisWeek = hoursSince(entries, WeekStart(now), now.Location())
	res.NearestDeadline = nearest
	res.Priority = PriorityFromDueDate(nearest, now)
	return res
}

// Report computes chart data
func (a *App) Report(ctx context.Context) (Report, error) {
	s, err := a.loadSnapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	now := a.now()

	res := Report{DailyHours: make([]DayHours, 0, reportDays), JobProgress: []JobProgress{},
		TaskStatus: map[enums.TaskStatus]int{}}

	byDate := map[string]float64{}
	for _, e := range s.entries {
		byDate[e.Date] += e.HoursValue()
	}
	for i := reportDays - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format(dateLayout)
		res.DailyHours = append(res.DailyHours, DayHours{Date: date, Hours: byDate[date]})
	}

	for i, j := range s.jobs {
		if i >= reportJobs {
			break
		}
		res.JobProgress = append(res.JobProgress, JobProgress{ID: j.ID, Name: j.Name, Progress: j.Progress})
	}

	for _, st := range enums.TaskStatusValues {
		res.TaskStatus[st] = 0
	}
	for _, t := range s.tasks {
		res.TaskStatus[t.Status]++
	}
	return res, nil
}
