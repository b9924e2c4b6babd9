package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/store"
)

// Store is the document persistence used by collections
type Store interface {
	Put(ctx context.Context, collection string, doc store.Doc) (store.Doc, error)
	Get(ctx context.Context, collection, id string) (store.Doc, error)
	Delete(ctx context.Context, collection, id string) error
	All(ctx context.Context, collection string) ([]store.Doc, error)
	Count(ctx context.Context, collection string) (int, error)
}

// entity constrains P to a pointer to an entity struct embedding Meta
type entity[T any] interface {
	*T
	meta() *Meta
}

// Collection provides CRUD over one collection of typed documents.
// All reads are full scans, queries filter in memory.
type Collection[T any, P entity[T]] struct {
	name  enums.Collection
	store Store
	rule  rule
	now   func() time.Time
	newID func() string
}

func newCollection[T any, P entity[T]](name enums.Collection, st Store, now func() time.Time, newID func() string) *Collection[T, P] {
	return &Collection[T, P]{name: name, store: st, rule: rules[name], now: now, newID: newID}
}

// Name returns the collection name
func (c *Collection[T, P]) Name() enums.Collection { return c.name }

// Create stores a new document built from v. Meta fields of v are ignored.
func (c *Collection[T, P]) Create(ctx context.Context, v T) (T, error) {
	f, err := toFields(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to convert %s document: %w", c.name, err)
	}
	return c.CreateFields(ctx, f)
}

// CreateFields validates required fields, applies defaults, sanitizes and stores a new document
func (c *Collection[T, P]) CreateFields(ctx context.Context, in Fields) (T, error) {
	var zero T
	f := cloneFields(in)
	stripMeta(f)
	if err := coerceNumbers(c.name, c.rule.numeric, f); err != nil {
		return zero, err
	}
	applyDefaults(f, c.rule.defaults)
	if err := validateRequired(c.name, c.rule.required, f); err != nil {
		return zero, err
	}
	if err := checkBounds(c.name, c.rule.bounds, f); err != nil {
		return zero, err
	}
	sanitizeFields(f, c.rule.sanitized)

	var res T
	if err := c.decodeFields(f, &res); err != nil {
		return zero, err
	}
	now := c.now().UTC()
	*P(&res).meta() = Meta{ID: c.newID(), CreatedAt: now, UpdatedAt: now}
	return c.put(ctx, "create", res)
}

// Update shallow-merges patch over the stored document. Required fields are not re-validated,
// meta fields in patch are ignored, updatedAt always moves forward.
func (c *Collection[T, P]) Update(ctx context.Context, id string, patch Fields) (T, error) {
	var zero T
	doc, err := c.store.Get(ctx, string(c.name), id)
	if err != nil {
		return zero, storeError("update", c.name, id, err)
	}

	cur := Fields{}
	if err := json.Unmarshal(doc.Body, &cur); err != nil {
		return zero, &UnexpectedStoreError{Op: "decode " + string(c.name), Err: err}
	}
	p := cloneFields(patch)
	stripMeta(p)
	if err := coerceNumbers(c.name, c.rule.numeric, p); err != nil {
		return zero, err
	}
	if err := checkBounds(c.name, c.rule.bounds, p); err != nil {
		return zero, err
	}
	sanitizeFields(p, c.rule.sanitized)
	maps.Copy(cur, p)

	var res T
	if err := c.decodeFields(cur, &res); err != nil {
		return zero, err
	}
	*P(&res).meta() = Meta{ID: id, Rev: doc.Rev, CreatedAt: doc.CreatedAt.UTC(), UpdatedAt: c.nextUpdate(doc.UpdatedAt)}
	return c.put(ctx, "update", res)
}

// Delete removes the document permanently, dependent documents in other collections are kept
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	return storeError("delete", c.name, id, c.store.Delete(ctx, string(c.name), id))
}

// Get returns the document by id
func (c *Collection[T, P]) Get(ctx context.Context, id string) (T, error) {
	doc, err := c.store.Get(ctx, string(c.name), id)
	if err != nil {
		var zero T
		return zero, storeError("get", c.name, id, err)
	}
	return c.decodeDoc(doc)
}

// List returns all documents of the collection
func (c *Collection[T, P]) List(ctx context.Context) ([]T, error) {
	return c.Query(ctx, nil)
}

// Query returns documents matching pred, nil pred matches all
func (c *Collection[T, P]) Query(ctx context.Context, pred func(T) bool) ([]T, error) {
	docs, err := c.store.All(ctx, string(c.name))
	if err != nil {
		return nil, storeError("list", c.name, "", err)
	}
	res := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := c.decodeDoc(d)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(v) {
			res = append(res, v)
		}
	}
	return res, nil
}

// Count returns number of documents in the collection
func (c *Collection[T, P]) Count(ctx context.Context) (int, error) {
	n, err := c.store.Count(ctx, string(c.name))
	return n, storeError("count", c.name, "", err)
}

// export returns all documents as fields, meta included
func (c *Collection[T, P]) export(ctx context.Context) ([]Fields, error) {
	docs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]Fields, 0, len(docs))
	for _, d := range docs {
		f, err := toFields(d)
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", c.name, err)
		}
		res = append(res, f)
	}
	return res, nil
}

// restore writes an exported document keeping its id and timestamps, overwriting any existing version.
// Values are stored as exported, without sanitizing them again.
func (c *Collection[T, P]) restore(ctx context.Context, in Fields) error {
	id, _ := in["id"].(string)
	if id == "" {
		return &ValidationError{Collection: c.name, Violations: []Violation{{Field: "id", Reason: "is required"}}}
	}
	now := c.now().UTC()
	createdAt, updatedAt := parseStamp(in["createdAt"], now), parseStamp(in["updatedAt"], now)

	f := cloneFields(in)
	stripMeta(f)
	applyDefaults(f, c.rule.defaults)
	if err := validateRequired(c.name, c.rule.required, f); err != nil {
		return err
	}
	var res T
	if err := c.decodeFields(f, &res); err != nil {
		return err
	}

	var rev string
	existing, err := c.store.Get(ctx, string(c.name), id)
	switch {
	case err == nil:
		rev = existing.Rev
	case !errors.Is(err, store.ErrNotFound):
		return storeError("restore", c.name, id, err)
	}
	*P(&res).meta() = Meta{ID: id, Rev: rev, CreatedAt: createdAt, UpdatedAt: updatedAt}
	_, err = c.put(ctx, "restore", res)
	return err
}

func (c *Collection[T, P]) put(ctx context.Context, op string, v T) (T, error) {
	var zero T
	m := P(&v).meta()
	body, err := encodeBody(v)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s %s: %w", c.name, m.ID, err)
	}
	doc, err := c.store.Put(ctx, string(c.name), store.Doc{ID: m.ID, Rev: m.Rev, CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt, Body: body})
	if err != nil {
		return zero, storeError(op, c.name, m.ID, err)
	}
	m.Rev = doc.Rev
	return v, nil
}

func (c *Collection[T, P]) decodeDoc(doc store.Doc) (T, error) {
	var res T
	if err := json.Unmarshal(doc.Body, P(&res)); err != nil {
		var zero T
		return zero, &UnexpectedStoreError{Op: "decode " + string(c.name) + " " + doc.ID, Err: err}
	}
	*P(&res).meta() = Meta{ID: doc.ID, Rev: doc.Rev, CreatedAt: doc.CreatedAt.UTC(), UpdatedAt: doc.UpdatedAt.UTC()}
	return res, nil
}

// decodeFields converts loosely typed fields to the entity, type mismatches are reported as violations
func (c *Collection[T, P]) decodeFields(f Fields, dst *T) error {
	data, err := json.Marshal(f)
	if err != nil {
		return &ValidationError{Collection: c.name, Violations: []Violation{{Field: "document", Reason: err.Error()}}}
	}
	if err := json.Unmarshal(data, P(dst)); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ValidationError{Collection: c.name,
				Violations: []Violation{{Field: typeErr.Field, Reason: "must be " + typeErr.Type.String()}}}
		}
		return &ValidationError{Collection: c.name, Violations: []Violation{{Field: "document", Reason: err.Error()}}}
	}
	return nil
}

// nextUpdate returns the current time, or just after prev if the clock did not move past it
func (c *Collection[T, P]) nextUpdate(prev time.Time) time.Time {
	now := c.now().UTC()
	if !now.After(prev) {
		return prev.UTC().Add(time.Nanosecond)
	}
	return now
}

func toFields(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res := Fields{}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func encodeBody(v any) (json.RawMessage, error) {
	f, err := toFields(v)
	if err != nil {
		return nil, err
	}
	stripMeta(f)
	return json.Marshal(f)
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	return maps.Clone(f)
}

// parseStamp reads an exported timestamp, yaml decoding may already produce time.Time
func parseStamp(v any, def time.Time) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return def
		}
		return t.UTC()
	}
	return def
}
