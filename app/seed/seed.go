// Package seed fills empty collections from a yaml file on startup. Only checklists, crew and inventory
// can be seeded, each section applies only if its collection has no documents yet.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/site"
)

// File is the seed file layout
type File struct {
	Checklists []Checklist `yaml:"checklists" json:"checklists,omitempty" jsonschema:"description=checklist templates"`
	Crew       []Crew      `yaml:"crew" json:"crew,omitempty" jsonschema:"description=crew roster"`
	Inventory  []Item      `yaml:"inventory" json:"inventory,omitempty" jsonschema:"description=inventory items"`
}

// Checklist is a seeded checklist template. Items default to the built-in list of the type.
type Checklist struct {
	Name  string              `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Type  enums.ChecklistType `yaml:"type" json:"type,omitempty" jsonschema:"enum=safety,enum=opening,enum=closing,enum=custom"`
	Items []string            `yaml:"items" json:"items,omitempty"`
}

// Crew is a seeded crew member
type Crew struct {
	Name           string `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Role           string `yaml:"role" json:"role,omitempty"`
	Phone          string `yaml:"phone" json:"phone,omitempty"`
	Email          string `yaml:"email" json:"email,omitempty" jsonschema:"format=email"`
	Certifications string `yaml:"certifications" json:"certifications,omitempty"`
}

// Item is a seeded inventory item
type Item struct {
	Name     string   `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Category string   `yaml:"category" json:"category,omitempty"`
	Quantity *float64 `yaml:"quantity" json:"quantity"`
	Unit     string   `yaml:"unit" json:"unit,omitempty"`
	MinStock *float64 `yaml:"minStock" json:"minStock,omitempty"`
	Location string   `yaml:"location" json:"location,omitempty"`
}

// Result tells what was seeded
type Result struct {
	Added    map[enums.Collection]int
	Skipped  []enums.Collection // already had documents
	Rejected int                // entries failing validation
}

// Load reads the seed file, unknown keys are rejected
func Load(path string) (File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return File{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	var res File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&res); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return res, nil
}

// Apply creates seeded documents in empty collections. Entries failing validation are logged and skipped,
// store errors abort.
func Apply(ctx context.Context, app *site.App, f File) (Result, error) {
	res := Result{Added: map[enums.Collection]int{}}

	checklists := make([]site.Checklist, 0, len(f.Checklists))
	for _, c := range f.Checklists {
		typ := c.Type
		if typ == "" {
			typ = enums.ChecklistCustom
		}
		items := c.Items
		if len(items) == 0 {
			items = site.TemplateItems(typ)
		}
		checklists = append(checklists, site.Checklist{Name: c.Name, Type: typ, Items: items})
	}
	if err := seedCollection(ctx, app.Checklists.Collection, checklists, &res); err != nil {
		return res, err
	}

	crew := make([]site.CrewMember, 0, len(f.Crew))
	for _, c := range f.Crew {
		crew = append(crew, site.CrewMember{Name: c.Name, Role: c.Role, Phone: c.Phone, Email: c.Email,
			Certifications: c.Certifications})
	}
	if err := seedCollection(ctx, app.Crew.Collection, crew, &res); err != nil {
		return res, err
	}

	items := make([]site.InventoryItem, 0, len(f.Inventory))
	for _, i := range f.Inventory {
		items = append(items, site.InventoryItem{Name: i.Name, Category: i.Category, Quantity: i.Quantity, Unit: i.Unit,
			MinStock: i.MinStock, Location: i.Location})
	}
	if err := seedCollection(ctx, app.Inventory.Collection, items, &res); err != nil {
		return res, err
	}
	return res, nil
}

// Schema returns the json schema of the seed file
func Schema() *jsonschema.Schema {
	schema := jsonschema.Reflect(&File{})
	schema.Title = "SiteMaster seed file"
	schema.Description = "Checklists, crew and inventory created on the first start"
	return schema
}

// creator is the part of site.Collection used for seeding
type creator[T any] interface {
	Name() enums.Collection
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, v T) (T, error)
}

func seedCollection[T any](ctx context.Context, c creator[T], docs []T, res *Result) error {
	if len(docs) == 0 {
		return nil
	}
	count, err := c.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Printf("[DEBUG] %s has %d documents, seed skipped", c.Name(), count)
		res.Skipped = append(res.Skipped, c.Name())
		return nil
	}
	for _, d := range docs {
		_, err := c.Create(ctx, d)
		var verr *site.ValidationError
		if errors.As(err, &verr) {
			log.Printf("[WARN] seed entry rejected in %s, %v", c.Name(), verr)
			res.Rejected++
			continue
		}
		if err != nil {
			return err
		}
		res.Added[c.Name()]++
	}
	log.Printf("[INFO] seeded %d %s", res.Added[c.Name()], c.Name())
	return nil
}
