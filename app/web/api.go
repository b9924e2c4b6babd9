package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/site"
	"github.com/umputun/sitemaster/app/store"
)

const dateLayout = "2006-01-02"

// collection is the generic surface of every entity repository
type collection[T any] interface {
	Name() enums.Collection
	CreateFields(ctx context.Context, in site.Fields) (T, error)
	Update(ctx context.Context, id string, patch site.Fields) (T, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) ([]T, error)
}

// registerCRUD adds list, create, get, update and delete routes for the collection
func registerCRUD[T any](api *routegroup.Bundle, c collection[T]) {
	name := string(c.Name())

	api.HandleFunc("GET /"+name, func(w http.ResponseWriter, r *http.Request) {
		res, err := c.List(r.Context())
		renderResult(w, r, res, err)
	})

	api.HandleFunc("POST /"+name, func(w http.ResponseWriter, r *http.Request) {
		var in site.Fields
		if err := decodeJSON(r, &in); err != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
			return
		}
		res, err := c.CreateFields(r.Context(), in)
		if err != nil {
			sendError(w, r, err)
			return
		}
		renderJSONStatus(w, http.StatusCreated, res)
	})

	api.HandleFunc("GET /"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Get(r.Context(), r.PathValue("id"))
		renderResult(w, r, res, err)
	})

	api.HandleFunc("PATCH /"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch site.Fields
		if err := decodeJSON(r, &patch); err != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
			return
		}
		res, err := c.Update(r.Context(), r.PathValue("id"), patch)
		renderResult(w, r, res, err)
	})

	api.HandleFunc("DELETE /"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := c.Delete(r.Context(), id); err != nil {
			sendError(w, r, err)
			return
		}
		rest.RenderJSON(w, rest.JSON{"id": id, "deleted": true})
	})
}

func (s *Server) handleLogsByJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Logs.ByJob(r.Context(), r.PathValue("id"))
	renderResult(w, r, res, err)
}

func (s *Server) handleLogsByDate(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Logs.ByDate(r.Context(), r.PathValue("date"))
	renderResult(w, r, res, err)
}

// handleRecordDay creates a log and its time entry, ?checklist=<id> copies checklist items into the log
func (s *Server) handleRecordDay(w http.ResponseWriter, r *http.Request) {
	var in site.Fields
	if err := decodeJSON(r, &in); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}
	res, err := s.app.RecordDay(r.Context(), in, r.URL.Query().Get("checklist"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	renderJSONStatus(w, http.StatusCreated, res)
}

func (s *Server) handleTasksByJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Tasks.ByJob(r.Context(), r.PathValue("id"))
	renderResult(w, r, res, err)
}

func (s *Server) handleTasksByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := enums.ParseTaskStatus(r.PathValue("status"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	res, err := s.app.Tasks.ByStatus(r.Context(), status)
	renderResult(w, r, res, err)
}

func (s *Server) handleTasksByPriority(w http.ResponseWriter, r *http.Request) {
	p, err := enums.ParsePriority(r.PathValue("priority"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	res, err := s.app.Tasks.ByPriority(r.Context(), p)
	renderResult(w, r, res, err)
}

func (s *Server) handleOrdersByJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Orders.ByJob(r.Context(), r.PathValue("id"))
	renderResult(w, r, res, err)
}

func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Orders.Pending(r.Context())
	renderResult(w, r, res, err)
}

func (s *Server) handleToolsByJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Tools.ByJob(r.Context(), r.PathValue("id"))
	renderResult(w, r, res, err)
}

func (s *Server) handleUnassignedTools(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Tools.Unassigned(r.Context())
	renderResult(w, r, res, err)
}

// handleMaintenanceDue lists tools due for maintenance on or before ?before=yyyy-mm-dd, today by default
func (s *Server) handleMaintenanceDue(w http.ResponseWriter, r *http.Request) {
	before := r.URL.Query().Get("before")
	if before == "" {
		before = time.Now().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, before); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid before date, expected yyyy-mm-dd")
		return
	}
	res, err := s.app.Tools.MaintenanceDue(r.Context(), before)
	renderResult(w, r, res, err)
}

// handleLowStock lists items at or below their minimum stock, ?threshold=n uses a fixed threshold instead
func (s *Server) handleLowStock(w http.ResponseWriter, r *http.Request) {
	thr := r.URL.Query().Get("threshold")
	if thr == "" {
		res, err := s.app.Inventory.LowStock(r.Context())
		renderResult(w, r, res, err)
		return
	}
	n, err := strconv.ParseFloat(thr, 64)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid threshold")
		return
	}
	res, err := s.app.Inventory.BelowThreshold(r.Context(), n)
	renderResult(w, r, res, err)
}

func (s *Server) handleChecklistTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := enums.ParseChecklistType(r.PathValue("type"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	rest.RenderJSON(w, rest.JSON{"type": t, "items": site.TemplateItems(t)})
}

func (s *Server) handleChecklistFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string              `json:"name"`
		Type enums.ChecklistType `json:"type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}
	res, err := s.app.Checklists.CreateFromTemplate(r.Context(), req.Name, req.Type)
	if err != nil {
		sendError(w, r, err)
		return
	}
	renderJSONStatus(w, http.StatusCreated, res)
}

func (s *Server) handleDuplicateChecklist(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Checklists.Duplicate(r.Context(), r.PathValue("id"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	renderJSONStatus(w, http.StatusCreated, res)
}

func (s *Server) handleTimeEntriesByJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.TimeEntries.ByJob(r.Context(), r.PathValue("id"))
	renderResult(w, r, res, err)
}

// handleTimeEntriesRange lists entries with ?from and ?to dates inclusive, either bound may be omitted
func (s *Server) handleTimeEntriesRange(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.TimeEntries.ByDateRange(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	renderResult(w, r, res, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	rest.RenderJSON(w, rest.JSON{"results": res, "total": res.Total()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.DashboardStats(r.Context())
	renderResult(w, r, res, err)
}

func (s *Server) handleJobSummary(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.JobSummary(r.Context(), r.PathValue("id"))
	renderResult(w, r, res, err)
}

func (s *Server) handleJobSummaries(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.JobSummaries(r.Context())
	renderResult(w, r, res, err)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Report(r.Context())
	renderResult(w, r, res, err)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Settings.Get(r.Context())
	renderResult(w, r, res, err)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch site.Fields
	if err := decodeJSON(r, &patch); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}
	res, err := s.app.Settings.Update(r.Context(), patch)
	renderResult(w, r, res, err)
}

// renderResult renders v as json or maps err to the error response
func renderResult(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		sendError(w, r, err)
		return
	}
	rest.RenderJSON(w, v)
}

// sendError maps site and store errors to http status codes
func sendError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *site.ValidationError
	var nfErr *site.NotFoundError
	var cErr *site.ConflictError
	switch {
	case errors.As(err, &verr):
		log.Printf("[DEBUG] rejected %s %s, %v", r.Method, r.URL.Path, err)
		renderJSONStatus(w, http.StatusBadRequest, rest.JSON{"error": verr.Error(), "violations": verr.Violations})
	case errors.As(err, &nfErr):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, nfErr.Error())
	case errors.As(err, &cErr):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusConflict, err, "document was changed by another write")
	case errors.Is(err, store.ErrNoSpace):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInsufficientStorage, err, "not enough free disk space")
	default:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "internal error")
	}
}

// renderJSONStatus writes v as json with the given status code
func renderJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// decodeJSON decodes request body into v, empty body is an error
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}
