package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/gorilla/websocket"
	"github.com/invopop/jsonschema"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/site"
	"github.com/umputun/sitemaster/app/store"
)

const changesBatch = 100

// StatusResponse is the JSON response for /api/v1/status
type StatusResponse struct {
	Version   string                   `json:"version"`
	StartedAt time.Time                `json:"startedAt"`
	Uptime    string                   `json:"uptime"`
	LastSeq   int64                    `json:"lastSeq"`
	Counts    map[enums.Collection]int `json:"counts"`
	Disk      *store.DiskUsage         `json:"disk,omitempty"`
}

type counter interface {
	Count(ctx context.Context) (int, error)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counters := map[enums.Collection]counter{
		enums.CollectionJobs:        s.app.Jobs,
		enums.CollectionLogs:        s.app.Logs,
		enums.CollectionTasks:       s.app.Tasks,
		enums.CollectionOrders:      s.app.Orders,
		enums.CollectionTools:       s.app.Tools,
		enums.CollectionInventory:   s.app.Inventory,
		enums.CollectionCrew:        s.app.Crew,
		enums.CollectionChecklists:  s.app.Checklists,
		enums.CollectionTimeEntries: s.app.TimeEntries,
	}

	resp := StatusResponse{
		Version:   s.version,
		StartedAt: s.startTime,
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		Counts:    make(map[enums.Collection]int, len(counters)),
	}
	for name, c := range counters {
		n, err := c.Count(r.Context())
		if err != nil {
			sendError(w, r, err)
			return
		}
		resp.Counts[name] = n
	}

	seq, err := s.feed.LastSeq(r.Context())
	if err != nil {
		sendError(w, r, err)
		return
	}
	resp.LastSeq = seq

	if s.dataDir != "" {
		u, err := store.Usage(r.Context(), s.dataDir)
		if err != nil {
			log.Printf("[WARN] %v", err)
		} else {
			resp.Disk = &u
		}
	}
	rest.RenderJSON(w, resp)
}

// handleSchema returns JSON schema of the collection documents
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	c, err := enums.ParseCollection(r.PathValue("collection"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, err.Error())
		return
	}
	reflector := jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(site.Prototype(c))
	schema.Title = string(c)
	schema.Description = "sitemaster " + string(c) + " document"
	schema.Required = site.RequiredFields(c)
	rest.RenderJSON(w, schema)
}

// handleChangesList returns change records after ?since=<seq>, optionally limited to ?collection
func (s *Server) handleChangesList(w http.ResponseWriter, r *http.Request) {
	since, collection, err := changesQuery(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	limit := changesBatch
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit <= 0 {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid limit")
			return
		}
	}
	res, err := s.feed.Changes(r.Context(), collection, since, limit)
	if err != nil {
		sendError(w, r, err)
		return
	}
	if res == nil {
		res = []store.Change{}
	}
	rest.RenderJSON(w, res)
}

// handleChangesSocket streams change records over websocket. Without ?since only changes made after
// the connection are sent.
func (s *Server) handleChangesSocket(w http.ResponseWriter, r *http.Request) {
	since, collection, err := changesQuery(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	if r.URL.Query().Get("since") == "" {
		if since, err = s.feed.LastSeq(r.Context()); err != nil {
			sendError(w, r, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[DEBUG] change feed client %s connected, since %d", r.RemoteAddr, since)

	// reader detects client close, incoming messages are ignored
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		changes, err := s.feed.Changes(r.Context(), collection, since, changesBatch)
		if err != nil {
			log.Printf("[WARN] failed to read changes: %v", err)
			return
		}
		for _, c := range changes {
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteJSON(c); err != nil {
				log.Printf("[DEBUG] change feed client %s gone, %v", r.RemoteAddr, err)
				return
			}
			since = c.Seq
		}
		if len(changes) == changesBatch {
			continue // more pending, don't wait for the tick
		}

		select {
		case <-r.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func changesQuery(r *http.Request) (since int64, collection string, err error) {
	if v := r.URL.Query().Get("since"); v != "" {
		if since, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, "", err
		}
	}
	if v := r.URL.Query().Get("collection"); v != "" {
		c, err := enums.ParseCollection(v)
		if err != nil {
			return 0, "", err
		}
		collection = string(c)
	}
	return since, collection, nil
}
