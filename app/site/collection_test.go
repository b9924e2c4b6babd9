package site

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/store"
)

// wednesday 2024-05-15 10:00 local, week starts on sunday 2024-05-12
var testNow = time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local)

// newTestApp makes app with a clock starting at now and moving one microsecond per call
func newTestApp(t *testing.T, now time.Time) (*App, *store.SQLite) {
	t.Helper()
	var tick atomic.Int64
	return newTestAppWithClock(t, func() time.Time { return now.Add(time.Duration(tick.Add(1)) * time.Microsecond) })
}

func newTestAppWithClock(t *testing.T, clock func() time.Time) (*App, *store.SQLite) {
	t.Helper()
	st, err := store.NewSQLite(t.Context(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, Params{Now: clock}), st
}

func TestCollection_Create(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	ctx := t.Context()

	t.Run("job defaults and round trip", func(t *testing.T) {
		job, err := app.Jobs.Create(ctx, Job{Name: "Tower A", Address: "1 Main St"})
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, 1, store.RevGeneration(job.Rev))
		assert.Equal(t, 0, job.Progress)
		assert.Equal(t, enums.JobStatusActive, job.Status)
		assert.True(t, job.CreatedAt.After(testNow))
		assert.Equal(t, job.CreatedAt, job.UpdatedAt)

		got, err := app.Jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(job, got))
	})

	t.Run("caller meta is ignored", func(t *testing.T) {
		job, err := app.Jobs.CreateFields(ctx, Fields{"id": "mine", "revision": "9-x", "createdAt": "2000-01-01T00:00:00Z",
			"name": "Tower B", "address": "2 Main St"})
		require.NoError(t, err)
		assert.NotEqual(t, "mine", job.ID)
		assert.Equal(t, 1, store.RevGeneration(job.Rev))
		assert.Equal(t, testNow.Year(), job.CreatedAt.Year())
	})

	t.Run("all violations are collected", func(t *testing.T) {
		_, err := app.Jobs.CreateFields(ctx, Fields{"name": "  ", "client": "ACME"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, enums.CollectionJobs, verr.Collection)
		assert.Equal(t, []Violation{{Field: "name", Reason: "is required"}, {Field: "address", Reason: "is required"}},
			verr.Violations)
		assert.EqualError(t, err, "name is required, address is required")
	})

	t.Run("zero number is not blank", func(t *testing.T) {
		item, err := app.Inventory.Create(ctx, InventoryItem{Name: "Rebar", Quantity: ptr(0.0)})
		require.NoError(t, err)
		assert.InDelta(t, 0, item.QuantityValue(), 0.001)
		assert.InDelta(t, 10, item.MinStockValue(), 0.001)
		assert.Equal(t, "materials", item.Category)

		_, err = app.Inventory.Create(ctx, InventoryItem{Name: "Rebar"})
		assert.EqualError(t, err, "quantity is required")

		_, err = app.TimeEntries.CreateFields(ctx, Fields{"jobId": "j1", "date": "2024-05-15", "hours": nil})
		assert.EqualError(t, err, "hours is required")
	})

	t.Run("empty array is blank", func(t *testing.T) {
		c, err := app.Checklists.CreateFields(ctx, Fields{"name": "Daily", "items": []any{}})
		require.NoError(t, err)
		assert.Equal(t, enums.ChecklistCustom, c.Type)
		assert.True(t, isBlank([]any{}))
	})

	t.Run("text fields are escaped", func(t *testing.T) {
		job, err := app.Jobs.Create(ctx, Job{Name: `<b>Tom & "Jerry's"</b>`, Address: "1 Main", Notes: "a<b"})
		require.NoError(t, err)
		assert.Equal(t, "&lt;b&gt;Tom &amp; &quot;Jerry&#x27;s&quot;&lt;/b&gt;", job.Name)
		assert.Equal(t, "a&lt;b", job.Notes)

		c, err := app.Checklists.Create(ctx, Checklist{Name: "x", Items: []string{"<a>", "b&c"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"&lt;a&gt;", "b&amp;c"}, c.Items)
	})

	t.Run("wrong type is a violation", func(t *testing.T) {
		_, err := app.Jobs.CreateFields(ctx, Fields{"name": "x", "address": "y", "progress": "half"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Violations, 1)
		assert.Equal(t, "progress", verr.Violations[0].Field)
	})

	t.Run("log defaults", func(t *testing.T) {
		dl, err := app.Logs.CreateFields(ctx, Fields{"jobId": "j1", "date": "2024-05-15"})
		require.NoError(t, err)
		require.NotNil(t, dl.HoursWorked)
		assert.InDelta(t, 8, *dl.HoursWorked, 0.001)
		assert.Equal(t, ChecklistEntries(DefaultLogChecklist), dl.Checklist)
	})
}

func TestCollection_Update(t *testing.T) {
	app, _ := newTestAppWithClock(t, func() time.Time { return testNow }) // frozen clock, updatedAt still moves forward
	ctx := t.Context()

	task, err := app.Tasks.Create(ctx, Task{Title: "Pour slab", JobID: "j1", DueDate: "2024-05-20"})
	require.NoError(t, err)
	assert.Equal(t, enums.TaskStatusPending, task.Status)
	assert.Equal(t, enums.PriorityMedium, task.Priority)

	upd, err := app.Tasks.Update(ctx, task.ID, Fields{"status": "in-progress", "description": "<east>", "id": "other",
		"createdAt": "2000-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, task.ID, upd.ID)
	assert.Equal(t, enums.TaskStatusInProgress, upd.Status)
	assert.Equal(t, "&lt;east&gt;", upd.Description)
	assert.Equal(t, task.Title, upd.Title)
	assert.Equal(t, task.DueDate, upd.DueDate)
	assert.True(t, upd.CreatedAt.Equal(task.CreatedAt))
	assert.True(t, upd.UpdatedAt.After(task.UpdatedAt))
	assert.Equal(t, 2, store.RevGeneration(upd.Rev))

	upd2, err := app.Tasks.Update(ctx, task.ID, Fields{"title": ""})
	require.NoError(t, err, "updates do not re-validate")
	assert.Empty(t, upd2.Title)
	assert.True(t, upd2.UpdatedAt.After(upd.UpdatedAt))

	got, err := app.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(upd2, got))

	_, err = app.Tasks.Update(ctx, "missing", Fields{"title": "x"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.Equal(t, enums.CollectionTasks, nf.Collection)

	_, err = app.Tasks.Update(ctx, task.ID, Fields{"priority": 5})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCollection_NumericFields(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	ctx := t.Context()

	t.Run("order form payload", func(t *testing.T) {
		// the order form submits cost as typed text, empty until filled
		order, err := app.Orders.CreateFields(ctx, Fields{"item": "Lumber", "quantity": 1, "unit": "units", "jobId": "j1",
			"status": "pending", "priority": "medium", "supplier": "", "expectedDelivery": "", "notes": "", "cost": ""})
		require.NoError(t, err)
		assert.Nil(t, order.Cost)
		assert.InDelta(t, 1, order.Quantity, 0)

		upd, err := app.Orders.Update(ctx, order.ID, Fields{"cost": "99"})
		require.NoError(t, err)
		require.NotNil(t, upd.Cost)
		assert.InDelta(t, 99, *upd.Cost, 0)

		upd, err = app.Orders.Update(ctx, order.ID, Fields{"cost": " 12.50 "})
		require.NoError(t, err)
		require.NotNil(t, upd.Cost)
		assert.InDelta(t, 12.5, *upd.Cost, 0)

		upd, err = app.Orders.Update(ctx, order.ID, Fields{"cost": ""})
		require.NoError(t, err)
		assert.Nil(t, upd.Cost, "empty string unsets")

		got, err := app.Orders.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(upd, got))
	})

	t.Run("numeric string on create", func(t *testing.T) {
		order, err := app.Orders.CreateFields(ctx, Fields{"item": "Nails", "jobId": "j1", "cost": "12.50", "quantity": ""})
		require.NoError(t, err)
		require.NotNil(t, order.Cost)
		assert.InDelta(t, 12.5, *order.Cost, 0)
		assert.InDelta(t, 1, order.Quantity, 0, "empty quantity gets the default")

		item, err := app.Inventory.CreateFields(ctx, Fields{"name": "Rebar", "quantity": "3", "minStock": "5"})
		require.NoError(t, err)
		assert.InDelta(t, 3, item.QuantityValue(), 0)
		assert.InDelta(t, 5, item.MinStockValue(), 0)

		_, err = app.TimeEntries.CreateFields(ctx, Fields{"jobId": "j1", "date": "2024-05-15", "hours": ""})
		assert.EqualError(t, err, "hours is required")
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := app.Orders.CreateFields(ctx, Fields{"item": "Nails", "jobId": "j1", "cost": "cheap"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []Violation{{Field: "cost", Reason: "must be a number"}}, verr.Violations)

		order, err := app.Orders.Create(ctx, Order{Item: "Screws", JobID: "j1"})
		require.NoError(t, err)
		_, err = app.Orders.Update(ctx, order.ID, Fields{"cost": "NaN"})
		require.ErrorAs(t, err, &verr)
	})
}

func TestCollection_Bounds(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	ctx := t.Context()

	_, err := app.Jobs.CreateFields(ctx, Fields{"name": "A", "address": "B", "progress": 150})
	assert.EqualError(t, err, "progress must be between 0 and 100")
	_, err = app.Jobs.CreateFields(ctx, Fields{"name": "A", "address": "B", "progress": -1.0})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	job, err := app.Jobs.CreateFields(ctx, Fields{"name": "A", "address": "B", "progress": "50"})
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)

	_, err = app.Jobs.Update(ctx, job.ID, Fields{"progress": 101})
	require.ErrorAs(t, err, &verr)
	got, err := app.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress, "rejected update not stored")

	upd, err := app.Jobs.Update(ctx, job.ID, Fields{"progress": 100})
	require.NoError(t, err)
	assert.Equal(t, 100, upd.Progress)
}

func TestCollection_DeleteListQuery(t *testing.T) {
	app, _ := newTestApp(t, testNow)
	ctx := t.Context()

	var ids []string
	for _, name := range []string{"Ann", "Bob", "Cid"} {
		m, err := app.Crew.Create(ctx, CrewMember{Name: name, Role: "carpenter"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	all, err := app.Crew.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, err := app.Crew.Query(ctx, func(m CrewMember) bool { return m.Name == "Bob" })
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ids[1], found[0].ID)

	require.NoError(t, app.Crew.Delete(ctx, ids[1]))
	_, err = app.Crew.Get(ctx, ids[1])
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	err = app.Crew.Delete(ctx, ids[1])
	require.ErrorAs(t, err, &nf)

	n, err := app.Crew.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) Get(context.Context, string, string) (store.Doc, error) { return store.Doc{}, f.err }
func (f failingStore) All(context.Context, string) ([]store.Doc, error)      { return nil, f.err }

func TestCollection_StoreErrors(t *testing.T) {
	ctx := context.Background()

	app := New(failingStore{err: errors.New("disk I/O error")}, Params{})
	_, err := app.Jobs.Get(ctx, "j1")
	var serr *UnexpectedStoreError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Contains(t, err.Error(), "get jobs")

	_, err = app.Tasks.List(ctx)
	require.ErrorAs(t, err, &serr)

	_, err = app.Search(ctx, "x")
	require.ErrorAs(t, err, &serr)

	app = New(failingStore{err: store.ErrConflict}, Params{})
	_, err = app.Jobs.Get(ctx, "j1")
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, store.ErrConflict)

	app = New(failingStore{err: store.ErrNoSpace}, Params{})
	_, err = app.Jobs.Get(ctx, "j1")
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, store.ErrNoSpace)
}

func TestCollection_Conflict(t *testing.T) {
	app, st := newTestApp(t, testNow)
	ctx := t.Context()

	job, err := app.Jobs.Create(ctx, Job{Name: "A", Address: "B"})
	require.NoError(t, err)

	// another writer moves the revision forward
	doc, err := st.Get(ctx, "jobs", job.ID)
	require.NoError(t, err)
	_, err = st.Put(ctx, "jobs", doc)
	require.NoError(t, err)

	_, err = app.Jobs.put(ctx, "update", job)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, job.ID, cerr.ID)
}
