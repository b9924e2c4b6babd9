// Package site implements the entity layer of the site diary: typed entities stored as documents,
// per-collection validation and sanitization rules, generic CRUD over collections, named queries
// and cross-collection aggregates (search, dashboard stats, job summaries, reports).
//
// Required fields are checked on create only, updates are shallow merges and never re-validate.
// Deleting a job leaves its tasks, orders, logs and time entries in place.
// All dependencies are held by App, constructed once per process and passed explicitly.
package site
