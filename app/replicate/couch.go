package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/umputun/sitemaster/app/store"
)

// couchDoc is a document in remote form, meta fields are underscore-prefixed or timestamps
type couchDoc map[string]any

// changeRow is a single _changes result
type changeRow struct {
	Seq     seqValue `json:"seq"`
	ID      string   `json:"id"`
	Changes []revRef `json:"changes"`
	Deleted bool     `json:"deleted"`
	Doc     couchDoc `json:"doc"`
}

type revRef struct {
	Rev string `json:"rev"`
}

type changesResponse struct {
	Results []changeRow `json:"results"`
	LastSeq seqValue    `json:"last_seq"`
}

// seqValue is a remote update sequence, a number in old servers and an opaque string in newer ones
type seqValue string

func (s *seqValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = seqValue(v)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	*s = seqValue(data)
	return nil
}

func (s seqValue) String() string { return string(s) }

// couchClient talks to the remote http api
type couchClient struct {
	base *url.URL
	http *http.Client
}

// ensureDB creates the database, an existing one is fine
func (c *couchClient) ensureDB(ctx context.Context, db string) error {
	resp, err := c.do(ctx, http.MethodPut, db, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted, http.StatusOK, http.StatusPreconditionFailed:
		return nil
	}
	return responseError("create database "+db, resp)
}

// bulkDocs writes documents keeping their revisions
func (c *couchClient) bulkDocs(ctx context.Context, db string, docs []couchDoc) error {
	body, err := json.Marshal(map[string]any{"docs": docs, "new_edits": false})
	if err != nil {
		return fmt.Errorf("failed to encode bulk docs: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, db+"/_bulk_docs", nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return responseError("bulk docs to "+db, resp)
	}
	return nil
}

// changes reads up to limit changes after since, documents included
func (c *couchClient) changes(ctx context.Context, db, since string, limit int) (changesResponse, error) {
	q := url.Values{}
	q.Set("include_docs", "true")
	q.Set("limit", strconv.Itoa(limit))
	if since != "" {
		q.Set("since", since)
	}
	resp, err := c.do(ctx, http.MethodGet, db+"/_changes", q, nil)
	if err != nil {
		return changesResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return changesResponse{}, responseError("changes of "+db, resp)
	}
	var res changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return changesResponse{}, fmt.Errorf("failed to decode changes of %s: %w", db, err)
	}
	return res, nil
}

func (c *couchClient) do(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Response, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	u.RawQuery = q.Encode()

	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func responseError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("failed to %s, status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// toCouch converts a local document with its revision history to remote form
func toCouch(doc store.Doc, history []string) (couchDoc, error) {
	res := couchDoc{}
	if len(doc.Body) > 0 {
		if err := json.Unmarshal(doc.Body, &res); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.ID, err)
		}
	}
	res["_id"] = doc.ID
	res["_rev"] = doc.Rev
	res["createdAt"] = doc.CreatedAt.UTC().Format(time.RFC3339Nano)
	res["updatedAt"] = doc.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if revs := revisions(doc.Rev, history); revs != nil {
		res["_revisions"] = revs
	}
	return res, nil
}

// fromCouch converts a remote document to local form, underscore fields are dropped
func fromCouch(cd couchDoc) (store.Doc, error) {
	id, _ := cd["_id"].(string)
	rev, _ := cd["_rev"].(string)
	if id == "" || rev == "" {
		return store.Doc{}, fmt.Errorf("remote document without id or revision")
	}
	res := store.Doc{ID: id, Rev: rev}
	res.CreatedAt = stamp(cd["createdAt"])
	res.UpdatedAt = stamp(cd["updatedAt"])
	if res.CreatedAt.IsZero() {
		res.CreatedAt = res.UpdatedAt
	}

	body := make(map[string]any, len(cd))
	for k, v := range cd {
		if strings.HasPrefix(k, "_") || k == "createdAt" || k == "updatedAt" {
			continue
		}
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return store.Doc{}, fmt.Errorf("failed to encode %s: %w", id, err)
	}
	res.Body = data
	return res, nil
}

// revisions builds the _revisions field from the consecutive generations of history ending at rev.
// history is newest first and may include rev itself.
func revisions(rev string, history []string) map[string]any {
	gen := store.RevGeneration(rev)
	if gen <= 0 {
		return nil
	}
	ids := []string{revHash(rev)}
	next := gen - 1
	for _, h := range history {
		if next == 0 {
			break
		}
		if store.RevGeneration(h) == next {
			ids = append(ids, revHash(h))
			next--
		}
	}
	return map[string]any{"start": gen, "ids": ids}
}

func revHash(rev string) string {
	if i := strings.IndexByte(rev, '-'); i >= 0 {
		return rev[i+1:]
	}
	return rev
}

func stamp(v any) time.Time {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
