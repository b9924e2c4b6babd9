package site

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/store"
)

// SettingsID is the fixed id of the settings document
const SettingsID = "app_settings"

// DefaultCompanyName is shown until the company name is changed
const DefaultCompanyName = "SiteMaster Diary"

// Settings is the application settings singleton
type Settings struct {
	Meta
	DarkMode            bool    `json:"darkMode"`
	CompanyLogo         *string `json:"companyLogo"`
	CompanyName         string  `json:"companyName"`
	PanoramicBackground *string `json:"panoramicBackground"`
}

// DefaultSettings returns settings used before the first update
func DefaultSettings() Settings {
	return Settings{Meta: Meta{ID: SettingsID}, CompanyName: DefaultCompanyName}
}

// SettingsRepo manages the settings singleton
type SettingsRepo struct {
	store Store
	now   func() time.Time
}

// Get returns stored settings merged over defaults. Nothing is written when settings are absent.
func (s *SettingsRepo) Get(ctx context.Context) (Settings, error) {
	res := DefaultSettings()
	doc, err := s.store.Get(ctx, string(enums.CollectionSettings), SettingsID)
	if errors.Is(err, store.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return Settings{}, storeError("get", enums.CollectionSettings, SettingsID, err)
	}
	if err := json.Unmarshal(doc.Body, &res); err != nil {
		return Settings{}, &UnexpectedStoreError{Op: "decode settings", Err: err}
	}
	res.Meta = Meta{ID: SettingsID, Rev: doc.Rev, CreatedAt: doc.CreatedAt.UTC(), UpdatedAt: doc.UpdatedAt.UTC()}
	return res, nil
}

// Update merges patch over current settings, creating the document on first call
func (s *SettingsRepo) Update(ctx context.Context, patch Fields) (Settings, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	f, err := toFields(cur)
	if err != nil {
		return Settings{}, &UnexpectedStoreError{Op: "encode settings", Err: err}
	}
	p := cloneFields(patch)
	stripMeta(p)
	maps.Copy(f, p)

	res := DefaultSettings()
	data, err := json.Marshal(f)
	if err != nil {
		return Settings{}, &UnexpectedStoreError{Op: "encode settings", Err: err}
	}
	if err := json.Unmarshal(data, &res); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Settings{}, &ValidationError{Collection: enums.CollectionSettings,
				Violations: []Violation{{Field: typeErr.Field, Reason: "must be " + typeErr.Type.String()}}}
		}
		return Settings{}, &ValidationError{Collection: enums.CollectionSettings,
			Violations: []Violation{{Field: "document", Reason: err.Error()}}}
	}

	now := s.now().UTC()
	createdAt := cur.CreatedAt
	if cur.Rev == "" {
		createdAt = now
	}
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt.Add(time.Nanosecond)
	}
	body, err := encodeBody(res)
	if err != nil {
		return Settings{}, &UnexpectedStoreError{Op: "encode settings", Err: err}
	}
	doc, err := s.store.Put(ctx, string(enums.CollectionSettings), store.Doc{ID: SettingsID, Rev: cur.Rev,
		CreatedAt: createdAt, UpdatedAt: now, Body: body})
	if err != nil {
		return Settings{}, storeError("update", enums.CollectionSettings, SettingsID, err)
	}
	res.Meta = Meta{ID: SettingsID, Rev: doc.Rev, CreatedAt: createdAt, UpdatedAt: now}
	return res, nil
}

// export returns the stored settings document, nil when settings were never written
func (s *SettingsRepo) export(ctx context.Context) ([]Fields, error) {
	cur, err := s.Get(ctx)
	if err != nil || cur.Rev == "" {
		return nil, err
	}
	f, err := toFields(cur)
	if err != nil {
		return nil, &UnexpectedStoreError{Op: "encode settings", Err: err}
	}
	return []Fields{f}, nil
}

// restore replaces settings with an exported document
func (s *SettingsRepo) restore(ctx context.Context, f Fields) error {
	_, err := s.Update(ctx, f)
	return err
}
