package digest

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitemaster/app/digest/mocks"
	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/site"
	"github.com/umputun/sitemaster/app/store"
)

var testNow = time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local)

func newTestApp(t *testing.T) *site.App {
	t.Helper()
	st, err := store.NewSQLite(t.Context(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return site.New(st, site.Params{})
}

func f64(v float64) *float64 { return &v }

// fillApp adds two urgent tasks, one low-stock item and one tool due for maintenance, plus non-matching records
func fillApp(t *testing.T, app *site.App) site.Job {
	t.Helper()
	ctx := t.Context()
	job, err := app.Jobs.Create(ctx, site.Job{Name: "Deck", Address: "1 Main St"})
	require.NoError(t, err)

	tasks := []site.Task{
		{Title: "Pour footing", JobID: job.ID, DueDate: "2024-05-16"},
		{Title: "Order rails", JobID: job.ID, DueDate: "2024-05-25"},
		{Title: "Old survey", JobID: job.ID, DueDate: "2024-05-01", Status: enums.TaskStatusCompleted},
		{Title: "Permit", JobID: "gone", DueDate: "2024-05-10"},
	}
	for _, task := range tasks {
		_, err := app.Tasks.Create(ctx, task)
		require.NoError(t, err)
	}

	_, err = app.Inventory.Create(ctx, site.InventoryItem{Name: "Nails", Quantity: f64(3), Unit: "box"})
	require.NoError(t, err)
	_, err = app.Inventory.Create(ctx, site.InventoryItem{Name: "Screws", Quantity: f64(50)})
	require.NoError(t, err)

	_, err = app.Tools.Create(ctx, site.Tool{Name: "Saw", SerialNumber: "SN-1", NextMaintenance: "2024-05-14"})
	require.NoError(t, err)
	_, err = app.Tools.Create(ctx, site.Tool{Name: "Drill", NextMaintenance: "2024-06-14"})
	require.NoError(t, err)
	return job
}

func TestService_Build(t *testing.T) {
	app := newTestApp(t)
	job := fillApp(t, app)
	svc := Service{App: app, Now: func() time.Time { return testNow }}

	d, err := svc.Build(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "2024-05-15", d.Date)
	assert.Equal(t, site.DefaultCompanyName, d.Company)
	require.Len(t, d.Urgent, 2)
	assert.Equal(t, "Permit", d.Urgent[0].Title, "overdue first")
	assert.Equal(t, "Pour footing", d.Urgent[1].Title)
	assert.Equal(t, map[string]string{job.ID: "Deck"}, d.JobNames)
	require.Len(t, d.LowStock, 1)
	assert.Equal(t, "Nails", d.LowStock[0].Name)
	require.Len(t, d.Maintenance, 1)
	assert.Equal(t, "Saw", d.Maintenance[0].Name)
	assert.False(t, d.Empty())

	text := d.String()
	assert.Contains(t, text, "SiteMaster Diary digest, 2024-05-15")
	assert.Contains(t, text, "urgent tasks (2):\n- Permit, due 2024-05-10\n- Pour footing [Deck], due 2024-05-16\n")
	assert.Contains(t, text, "low stock (1):\n- Nails: 3 box, min 10\n")
	assert.Contains(t, text, "maintenance due (1):\n- Saw (SN-1), due 2024-05-14\n")
}

func TestService_BuildOrdersUrgentTasks(t *testing.T) {
	app := newTestApp(t)
	ctx := t.Context()
	for _, task := range []site.Task{
		{Title: "Low same day", JobID: "j1", DueDate: "2024-05-16", Priority: enums.PriorityLow},
		{Title: "Urgent same day", JobID: "j1", DueDate: "2024-05-16", Priority: enums.PriorityUrgent},
		{Title: "Overdue", JobID: "j1", DueDate: "2024-05-14", Priority: enums.PriorityLow},
		{Title: "High same day", JobID: "j1", DueDate: "2024-05-16", Priority: enums.PriorityHigh},
	} {
		_, err := app.Tasks.Create(ctx, task)
		require.NoError(t, err)
	}

	svc := Service{App: app, Now: func() time.Time { return testNow }}
	d, err := svc.Build(ctx)
	require.NoError(t, err)
	titles := make([]string, 0, len(d.Urgent))
	for _, task := range d.Urgent {
		titles = append(titles, task.Title)
	}
	assert.Equal(t, []string{"Overdue", "Urgent same day", "High same day", "Low same day"}, titles)
}

func TestService_Send(t *testing.T) {
	app := newTestApp(t)
	fillApp(t, app)
	_, err := app.Settings.Update(t.Context(), site.Fields{"companyName": "Acme Build"})
	require.NoError(t, err)

	var failures atomic.Int32
	failures.Store(2)
	hook := &mocks.NotifierMock{
		SchemaFunc: func() string { return "https" },
		SendFunc: func(_ context.Context, dest, text string) error {
			assert.Equal(t, "https://hooks.example.com/site", dest)
			if failures.Add(-1) >= 0 {
				return errors.New("temporary failure")
			}
			return nil
		},
	}
	slack := &mocks.NotifierMock{
		SchemaFunc: func() string { return "slack" },
		SendFunc:   func(context.Context, string, string) error { return nil },
	}
	svc := Service{
		App:          app,
		Notifiers:    []Notifier{hook, slack},
		Destinations: []string{"https://hooks.example.com/site", "slack:site-ops"},
		Repeater:     repeater.New(&strategy.FixedDelay{Repeats: 3, Delay: time.Millisecond}),
		Now:          func() time.Time { return testNow },
	}

	require.NoError(t, svc.Send(t.Context()))
	assert.Len(t, hook.SendCalls(), 3, "retried until success")
	require.Len(t, slack.SendCalls(), 1)
	assert.Equal(t, "slack:site-ops", slack.SendCalls()[0].Destination)
	assert.Contains(t, slack.SendCalls()[0].Text, "Acme Build digest, 2024-05-15")

	t.Run("unknown destination", func(t *testing.T) {
		svc := svc
		svc.Destinations = []string{"telegram:ops", "slack:site-ops"}
		err := svc.Send(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no notifier for "telegram:ops"`)
		assert.Len(t, slack.SendCalls(), 2, "other destinations still served")
	})

	t.Run("send failure", func(t *testing.T) {
		broken := &mocks.NotifierMock{
			SchemaFunc: func() string { return "slack" },
			SendFunc:   func(context.Context, string, string) error { return errors.New("channel not found") },
		}
		svc := Service{App: app, Notifiers: []Notifier{broken}, Destinations: []string{"slack:nope"}}
		err := svc.Send(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "channel not found")
		assert.Len(t, broken.SendCalls(), 1)
	})
}

func TestService_SendEmpty(t *testing.T) {
	app := newTestApp(t)
	_, err := app.Inventory.Create(t.Context(), site.InventoryItem{Name: "Screws", Quantity: f64(50)})
	require.NoError(t, err)

	n := &mocks.NotifierMock{
		SchemaFunc: func() string { return "slack" },
		SendFunc:   func(context.Context, string, string) error { return nil },
	}
	svc := Service{App: app, Notifiers: []Notifier{n}, Destinations: []string{"slack:ops"}}
	d, err := svc.Build(t.Context())
	require.NoError(t, err)
	assert.True(t, d.Empty())
	require.NoError(t, svc.Send(t.Context()))
	assert.Empty(t, n.SendCalls())
}

func TestService_Do(t *testing.T) {
	app := newTestApp(t)
	fillApp(t, app)

	n := &mocks.NotifierMock{
		SchemaFunc: func() string { return "slack" },
		SendFunc:   func(context.Context, string, string) error { return nil },
	}
	stopped, stop := context.WithCancel(context.Background())
	stop()
	cr := &mocks.CronMock{
		ScheduleFunc: func(cron.Schedule, cron.Job) cron.EntryID { return 1 },
		StartFunc:    func() {},
		StopFunc:     func() context.Context { return stopped },
	}
	svc := Service{Cron: cr, App: app, Notifiers: []Notifier{n}, Destinations: []string{"slack:ops"},
		Now: func() time.Time { return testNow }}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- svc.Do(ctx) }()

	require.Eventually(t, func() bool { return len(cr.StartCalls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, cr.ScheduleCalls(), 1)
	sched := cr.ScheduleCalls()[0].Schedule
	next := sched.Next(time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local))
	assert.True(t, time.Date(2024, 5, 16, 7, 0, 0, 0, time.Local).Equal(next), "default schedule is 7am daily, got %v", next)

	cr.ScheduleCalls()[0].Cmd.Run()
	assert.Len(t, n.SendCalls(), 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("digest service not stopped")
	}
	assert.Len(t, cr.StopCalls(), 1)

	t.Run("invalid schedule", func(t *testing.T) {
		svc := Service{Cron: cr, App: app, Schedule: "every day"}
		err := svc.Do(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid digest schedule")
	})
}
