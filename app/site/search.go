package site

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SearchResult holds matches per category, in collection scan order
type SearchResult struct {
	Jobs      []Job           `json:"jobs"`
	Logs      []DailyLog      `json:"logs"`
	Tasks     []Task          `json:"tasks"`
	Orders    []Order         `json:"orders"`
	Tools     []Tool          `json:"tools"`
	Inventory []InventoryItem `json:"inventory"`
	Crew      []CrewMember    `json:"crew"`
}

// Total returns number of matches across categories
func (r SearchResult) Total() int {
	return len(r.Jobs) + len(r.Logs) + len(r.Tasks) + len(r.Orders) + len(r.Tools) + len(r.Inventory) + len(r.Crew)
}

// Search returns documents having term as a case-insensitive substring of any searched field.
// Each category scans its collection independently.
func (a *App) Search(ctx context.Context, term string) (SearchResult, error) {
	q := strings.ToLower(term)
	match := func(fields ...string) bool {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				return true
			}
		}
		return false
	}

	var res SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		res.Jobs, err = a.Jobs.Query(gctx, func(v Job) bool { return match(v.Name, v.Address, v.Notes) })
		return err
	})
	g.Go(func() (err error) {
		res.Logs, err = a.Logs.Query(gctx, func(v DailyLog) bool { return match(v.Notes, v.Weather, v.SafetyObservations) })
		return err
	})
	g.Go(func() (err error) {
		res.Tasks, err = a.Tasks.Query(gctx, func(v Task) bool { return match(v.Title, v.Description) })
		return err
	})
	g.Go(func() (err error) {
		res.Orders, err = a.Orders.Query(gctx, func(v Order) bool { return match(v.Item, v.Notes) })
		return err
	})
	g.Go(func() (err error) {
		res.Tools, err = a.Tools.Query(gctx, func(v Tool) bool { return match(v.Name, v.SerialNumber) })
		return err
	})
	g.Go(func() (err error) {
		res.Inventory, err = a.Inventory.Query(gctx, func(v InventoryItem) bool { return match(v.Name, v.Category) })
		return err
	})
	g.Go(func() (err error) {
		res.Crew, err = a.Crew.Query(gctx, func(v CrewMember) bool { return match(v.Name, v.Role, v.Phone) })
		return err
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}
	return res, nil
}
