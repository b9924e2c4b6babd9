// Package replicate syncs local collections with a CouchDB-compatible remote.
//
// Every collection maps to a remote database named <prefix><collection> in lower case. A sync pass pushes
// local changes after the push checkpoint with _bulk_docs (new_edits=false, so local revisions are kept),
// then pulls remote _changes after the pull checkpoint. Pulled documents are applied last-writer-wins
// by updatedAt, ties go to the higher revision. Pulled writes are marked remote in the local change feed
// and never pushed back.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/store"
)

const (
	dirPush = "push"
	dirPull = "pull"
)

// Store is the local store surface used by replication, implemented by store.SQLite
type Store interface {
	Changes(ctx context.Context, collection string, since int64, limit int) ([]store.Change, error)
	Get(ctx context.Context, collection, id string) (store.Doc, error)
	PutReplicated(ctx context.Context, collection string, doc store.Doc, deleted bool) error
	Checkpoint(ctx context.Context, remote, collection, direction string) (string, error)
	SetCheckpoint(ctx context.Context, remote, collection, direction, seq string) error
	Revisions(ctx context.Context, collection, id string) ([]string, error)
}

// Params configures Replicator
type Params struct {
	Remote      string             // base url, credentials may be passed as url userinfo
	Prefix      string             // remote database prefix, defaults to "sitemaster-"
	Collections []enums.Collection // defaults to all collections
	Interval    time.Duration      // live sync interval, defaults to 30s
	BatchSize   int                // documents per request, defaults to 100
	Concurrency int                // collections synced in parallel, defaults to 4
	Retries     int                // attempts per push or pull, defaults to 3
	RetryDelay  time.Duration      // initial backoff delay, defaults to 1s
	Timeout     time.Duration      // http timeout, defaults to 30s
}

// Stats counts documents moved by a sync pass
type Stats struct {
	Pushed  int
	Pulled  int
	Skipped int // remote documents losing to local versions
}

// Replicator syncs local collections with the remote
type Replicator struct {
	Params
	store   Store
	client  *couchClient
	remote  string // redacted remote url, checkpoint key
	ensured sync.Map
}

// New makes Replicator for the remote, Params.Remote is required
func New(st Store, p Params) (*Replicator, error) {
	if p.Remote == "" {
		return nil, errors.New("remote url is required")
	}
	u, err := url.Parse(strings.TrimSuffix(p.Remote, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote url scheme %q", u.Scheme)
	}
	if p.Prefix == "" {
		p.Prefix = "sitemaster-"
	}
	if len(p.Collections) == 0 {
		p.Collections = enums.CollectionValues
	}
	if p.Interval <= 0 {
		p.Interval = 30 * time.Second
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	if p.Retries <= 0 {
		p.Retries = 3
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	return &Replicator{
		Params: p,
		store:  st,
		client: &couchClient{base: u, http: &http.Client{Timeout: p.Timeout}},
		remote: u.Redacted(),
	}, nil
}

// Run syncs on every interval until ctx is canceled. A failed pass is logged and retried on the next tick.
func (r *Replicator) Run(ctx context.Context) error {
	log.Printf("[INFO] replication to %s started, %d collections, every %v", r.remote, len(r.Collections), r.Interval)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if st, err := r.Sync(ctx); err != nil {
			log.Printf("[WARN] replication pass failed: %v", err)
		} else if st.Pushed+st.Pulled > 0 {
			log.Printf("[INFO] replicated, pushed %d, pulled %d, skipped %d", st.Pushed, st.Pulled, st.Skipped)
		}
		select {
		case <-ctx.Done():
			log.Printf("[INFO] replication to %s stopped", r.remote)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync runs one push and pull pass over all collections
func (r *Replicator) Sync(ctx context.Context) (Stats, error) {
	var (
		mu    sync.Mutex
		total Stats
		errs  []error
	)
	gr := syncs.NewSizedGroup(r.Concurrency)
	for _, c := range r.Collections {
		gr.Go(func(context.Context) {
			st, err := r.syncCollection(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			total.Pushed += st.Pushed
			total.Pulled += st.Pulled
			total.Skipped += st.Skipped
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c, err))
			}
		})
	}
	gr.Wait()
	return total, errors.Join(errs...)
}

func (r *Replicator) syncCollection(ctx context.Context, c enums.Collection) (Stats, error) {
	var res Stats
	db := r.dbName(c)
	rptr := repeater.New(&strategy.Backoff{Repeats: r.Retries, Duration: r.RetryDelay, Factor: 2, Jitter: true})

	if _, ok := r.ensured.Load(db); !ok {
		if err := rptr.Do(ctx, func() error { return r.client.ensureDB(ctx, db) }); err != nil {
			return res, err
		}
		r.ensured.Store(db, true)
	}

	err := rptr.Do(ctx, func() error {
		n, err := r.push(ctx, c, db)
		res.Pushed += n
		return err
	})
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}

	err = rptr.Do(ctx, func() error {
		pulled, skipped, err := r.pull(ctx, c, db)
		res.Pulled += pulled
		res.Skipped += skipped
		return err
	})
	if err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}
	return res, nil
}

// push sends local changes after the push checkpoint, the checkpoint moves after every accepted batch
func (r *Replicator) push(ctx context.Context, c enums.Collection, db string) (int, error) {
	cp, err := r.store.Checkpoint(ctx, r.remote, string(c), dirPush)
	if err != nil {
		return 0, err
	}
	var since int64
	if cp != "" {
		if since, err = strconv.ParseInt(cp, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid push checkpoint %q: %w", cp, err)
		}
	}

	pushed := 0
	for {
		changes, err := r.store.Changes(ctx, string(c), since, r.BatchSize)
		if err != nil {
			return pushed, err
		}
		if len(changes) == 0 {
			return pushed, nil
		}

		docs, err := r.pushDocs(ctx, c, changes)
		if err != nil {
			return pushed, err
		}
		if len(docs) > 0 {
			if err := r.client.bulkDocs(ctx, db, docs); err != nil {
				return pushed, err
			}
			pushed += len(docs)
		}

		since = changes[len(changes)-1].Seq
		if err := r.store.SetCheckpoint(ctx, r.remote, string(c), dirPush, strconv.FormatInt(since, 10)); err != nil {
			return pushed, err
		}
	}
}

// pushDocs converts local changes to remote documents. Changes received from the remote are skipped,
// as are changes superseded by a later write of the same document.
func (r *Replicator) pushDocs(ctx context.Context, c enums.Collection, changes []store.Change) ([]couchDoc, error) {
	res := make([]couchDoc, 0, len(changes))
	for _, ch := range changes {
		if ch.Remote {
			continue
		}
		history, err := r.store.Revisions(ctx, string(c), ch.ID)
		if err != nil {
			return nil, err
		}
		if ch.Deleted {
			cd := couchDoc{"_id": ch.ID, "_rev": ch.Rev, "_deleted": true}
			if revs := revisions(ch.Rev, history); revs != nil {
				cd["_revisions"] = revs
			}
			res = append(res, cd)
			continue
		}
		doc, err := r.store.Get(ctx, string(c), ch.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted later, the tombstone follows in the feed
		}
		if err != nil {
			return nil, err
		}
		if doc.Rev != ch.Rev {
			continue
		}
		cd, err := toCouch(doc, history)
		if err != nil {
			return nil, err
		}
		res = append(res, cd)
	}
	return res, nil
}

// pull applies remote changes after the pull checkpoint
func (r *Replicator) pull(ctx context.Context, c enums.Collection, db string) (pulled, skipped int, err error) {
	since, err := r.store.Checkpoint(ctx, r.remote, string(c), dirPull)
	if err != nil {
		return 0, 0, err
	}

	for {
		resp, err := r.client.changes(ctx, db, since, r.BatchSize)
		if err != nil {
			return pulled, skipped, err
		}
		for _, row := range resp.Results {
			applied, err := r.apply(ctx, c, row)
			if err != nil {
				return pulled, skipped, err
			}
			if applied {
				pulled++
			} else {
				skipped++
			}
		}

		last := resp.LastSeq.String()
		if last != "" && last != since {
			if err := r.store.SetCheckpoint(ctx, r.remote, string(c), dirPull, last); err != nil {
				return pulled, skipped, err
			}
			since = last
		}
		if len(resp.Results) < r.BatchSize {
			return pulled, skipped, nil
		}
	}
}

// apply writes a remote change locally if it wins over the local version
func (r *Replicator) apply(ctx context.Context, c enums.Collection, row changeRow) (bool, error) {
	if strings.HasPrefix(row.ID, "_design/") || len(row.Changes) == 0 {
		return false, nil
	}
	rev := row.Changes[0].Rev

	local, err := r.store.Get(ctx, string(c), row.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if exists && local.Rev == rev {
		return false, nil
	}

	if row.Deleted {
		if !exists {
			return false, nil
		}
		// a local edit made after the remote saw the document keeps it alive
		if store.RevGeneration(local.Rev) >= store.RevGeneration(rev) {
			return false, nil
		}
		return true, r.store.PutReplicated(ctx, string(c), store.Doc{ID: row.ID, Rev: rev}, true)
	}

	if row.Doc == nil {
		return false, fmt.Errorf("change %s has no document", row.ID)
	}
	doc, err := fromCouch(row.Doc)
	if err != nil {
		return false, err
	}
	if exists && !newer(doc, local) {
		return false, nil
	}
	return true, r.store.PutReplicated(ctx, string(c), doc, false)
}

func (r *Replicator) dbName(c enums.Collection) string {
	return strings.ToLower(r.Prefix + string(c))
}

// newer reports whether remote wins over local: later updatedAt, then higher generation, then larger revision
func newer(remote, local store.Doc) bool {
	if !remote.UpdatedAt.Equal(local.UpdatedAt) {
		return remote.UpdatedAt.After(local.UpdatedAt)
	}
	rg, lg := store.RevGeneration(remote.Rev), store.RevGeneration(local.Rev)
	if rg != lg {
		return rg > lg
	}
	return remote.Rev > local.Rev
}
