// Package digest sends a scheduled summary of things needing attention on site: urgent tasks,
// low-stock inventory and tools due for maintenance. Empty digests are not sent.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/site"
)

//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/cron.go -pkg mocks -skip-ensure -fmt goimports . Cron

// DefaultSchedule sends the digest every morning at 7
const DefaultSchedule = "0 7 * * *"

// Service builds and delivers digests on schedule
type Service struct {
	Cron         Cron
	App          *site.App
	Notifiers    []Notifier
	Destinations []string // notifier urls, e.g. https://hooks.example.com/x or slack:channel
	Schedule     string
	Repeater     Repeater
	Now          func() time.Time
}

// Cron interface defines robfig/cron methods used by the service
type Cron interface {
	Start()
	Stop() context.Context
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
}

// Notifier delivers text to a destination, implemented by go-pkgz/notify senders
type Notifier interface {
	Schema() string
	Send(ctx context.Context, destination, text string) error
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Digest is a snapshot of things needing attention
type Digest struct {
	Company     string
	Date        string
	Urgent      []site.Task
	JobNames    map[string]string
	LowStock    []site.InventoryItem
	Maintenance []site.Tool
}

// Do schedules the digest and blocks until ctx is canceled
func (s *Service) Do(ctx context.Context) error {
	expr := s.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", expr, err)
	}
	s.Cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.Send(ctx); err != nil {
			log.Printf("[WARN] digest not sent, %v", err)
		}
	}))
	s.Cron.Start()
	log.Printf("[INFO] digest scheduled %q to %d destinations", expr, len(s.Destinations))
	<-ctx.Done()
	<-s.Cron.Stop().Done()
	return ctx.Err()
}

// Send builds the digest and sends it to every destination. Nothing is sent when the digest is empty.
func (s *Service) Send(ctx context.Context) error {
	d, err := s.Build(ctx)
	if err != nil {
		return err
	}
	if d.Empty() {
		log.Printf("[DEBUG] digest for %s is empty, skipped", d.Date)
		return nil
	}
	text := d.String()

	var errs []error
	for _, dest := range s.Destinations {
		n := s.notifier(dest)
		if n == nil {
			errs = append(errs, fmt.Errorf("no notifier for %q", dest))
			continue
		}
		send := func() error { return n.Send(ctx, dest, text) }
		if s.Repeater != nil {
			err = s.Repeater.Do(ctx, send)
		} else {
			err = send()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", n.Schema(), err))
			continue
		}
		log.Printf("[INFO] digest for %s sent via %s", d.Date, n.Schema())
	}
	return errors.Join(errs...)
}

// Build collects the digest content as of now
func (s *Service) Build(ctx context.Context) (Digest, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	today := now.Format("2006-01-02")

	settings, err := s.App.Settings.Get(ctx)
	if err != nil {
		return Digest{}, err
	}
	res := Digest{Company: settings.CompanyName, Date: today, JobNames: map[string]string{}}

	res.Urgent, err = s.App.Tasks.Query(ctx, func(t site.Task) bool {
		return t.Status != enums.TaskStatusCompleted && site.PriorityFromDueDate(t.DueDate, now) == enums.PriorityUrgent
	})
	if err != nil {
		return Digest{}, err
	}
	// by due date, then by assigned priority for tasks due the same day
	sort.SliceStable(res.Urgent, func(i, j int) bool {
		a, b := res.Urgent[i], res.Urgent[j]
		if a.DueDate != b.DueDate {
			return a.DueDate < b.DueDate
		}
		return a.Priority.Rank() > b.Priority.Rank()
	})
	for _, t := range res.Urgent {
		if _, ok := res.JobNames[t.JobID]; ok || t.JobID == "" {
			continue
		}
		job, err := s.App.Jobs.Get(ctx, t.JobID)
		var nf *site.NotFoundError
		if errors.As(err, &nf) {
			continue
		}
		if err != nil {
			return Digest{}, err
		}
		res.JobNames[t.JobID] = job.Name
	}

	if res.LowStock, err = s.App.Inventory.LowStock(ctx); err != nil {
		return Digest{}, err
	}
	if res.Maintenance, err = s.App.Tools.MaintenanceDue(ctx, today); err != nil {
		return Digest{}, err
	}
	return res, nil
}

func (s *Service) notifier(dest string) Notifier {
	for _, n := range s.Notifiers {
		if strings.HasPrefix(dest, n.Schema()) {
			return n
		}
	}
	return nil
}

// Empty reports whether there is nothing to send
func (d Digest) Empty() bool {
	return len(d.Urgent) == 0 && len(d.LowStock) == 0 && len(d.Maintenance) == 0
}

// String renders the digest as plain text
func (d Digest) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s digest, %s\n", d.Company, d.Date)

	if len(d.Urgent) > 0 {
		fmt.Fprintf(&b, "\nurgent tasks (%d):\n", len(d.Urgent))
		for _, t := range d.Urgent {
			line := "- " + t.Title
			if name := d.JobNames[t.JobID]; name != "" {
				line += " [" + name + "]"
			}
			if t.DueDate != "" {
				line += ", due " + t.DueDate
			}
			b.WriteString(line + "\n")
		}
	}

	if len(d.LowStock) > 0 {
		fmt.Fprintf(&b, "\nlow stock (%d):\n", len(d.LowStock))
		for _, i := range d.LowStock {
			qty := strconv.FormatFloat(i.QuantityValue(), 'f', -1, 64)
			if i.Unit != "" {
				qty += " " + i.Unit
			}
			fmt.Fprintf(&b, "- %s: %s, min %s\n", i.Name, qty, strconv.FormatFloat(i.MinStockValue(), 'f', -1, 64))
		}
	}

	if len(d.Maintenance) > 0 {
		fmt.Fprintf(&b, "\nmaintenance due (%d):\n", len(d.Maintenance))
		for _, t := range d.Maintenance {
			name := t.Name
			if t.SerialNumber != "" {
				name += " (" + t.SerialNumber + ")"
			}
			fmt.Fprintf(&b, "- %s, due %s\n", name, t.NextMaintenance)
		}
	}
	return b.String()
}
