// Package web implements the HTTP API server for sitemaster
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/gorilla/websocket"

	"github.com/umputun/sitemaster/app/site"
	"github.com/umputun/sitemaster/app/store"
)

// session represents an active user session
type session struct {
	token     string
	createdAt time.Time
}

// Server represents the web server
type Server struct {
	app            *site.App
	feed           ChangeFeed
	dataDir        string // directory checked for disk usage in status
	baseURL        string // base URL path for reverse proxy (e.g., /sitemaster), empty for root
	version        string
	passwordHash   string                      // bcrypt hash for auth
	loginTTL       time.Duration               // session TTL
	maxBodySize    int64                       // max request body, photos are embedded as data urls
	pollInterval   time.Duration               // change feed poll interval for websocket clients
	csrfProtection *http.CrossOriginProtection // csrf protection for mutating endpoints
	upgrader       websocket.Upgrader
	sessions       map[string]session // active user sessions
	sessionsMu     sync.Mutex         // protects sessions map
	startTime      time.Time
}

// ChangeFeed provides store change records, implemented by store.SQLite
type ChangeFeed interface {
	Changes(ctx context.Context, collection string, since int64, limit int) ([]store.Change, error)
	LastSeq(ctx context.Context) (int64, error)
}

// Config holds server configuration
type Config struct {
	App          *site.App
	Feed         ChangeFeed
	DataDir      string
	BaseURL      string // base URL path for reverse proxy (e.g., /sitemaster), empty for root
	Version      string
	PasswordHash string        // bcrypt hash for auth (empty to disable)
	LoginTTL     time.Duration // session TTL, defaults to 24h if not set
	MaxBodySize  int64         // defaults to 16MB
	PollInterval time.Duration // defaults to 1s
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("web server initialization failed: App is required")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("web server initialization failed: Feed is required")
	}

	loginTTL := cfg.LoginTTL
	if loginTTL == 0 {
		loginTTL = 24 * time.Hour
	}
	maxBody := cfg.MaxBodySize
	if maxBody == 0 {
		maxBody = 16 * 1024 * 1024
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = time.Second
	}

	return &Server{
		app:            cfg.App,
		feed:           cfg.Feed,
		dataDir:        cfg.DataDir,
		baseURL:        cfg.BaseURL,
		version:        cfg.Version,
		passwordHash:   cfg.PasswordHash,
		loginTTL:       loginTTL,
		maxBodySize:    maxBody,
		pollInterval:   poll,
		csrfProtection: http.NewCrossOriginProtection(),
		upgrader:       websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		sessions:       make(map[string]session),
		startTime:      time.Now(),
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with base URL wrapping applied
func (s *Server) handler() http.Handler {
	routes := s.routes()
	if s.baseURL == "" {
		return routes
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.baseURL, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.baseURL+"/", http.StatusMovedPermanently)
	})
	mux.Handle(s.baseURL+"/", http.StripPrefix(s.baseURL, routes))
	return mux
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware, request logger is added per group because websocket needs an unwrapped writer
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("sitemaster", "umputun", s.version),
		rest.Ping,
		rest.Trace,
	)

	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for api")
		router.Use(s.authMiddleware)

		loginLimiter := tollbooth.NewLimiter(5, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Minute})
		loginLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
		loginLimiter.SetMessage(`{"error":"too many login attempts"}`)
		loginLimiter.SetMessageContentType("application/json")
		router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleLogin)
		router.HandleFunc("POST /logout", s.handleLogout)
	}

	reqLogger := logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(reqLogger, rest.SizeLimit(s.maxBodySize), rest.NoCache, s.csrfProtection.Handler)

		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("GET /schema/{collection}", s.handleSchema)
		api.HandleFunc("GET /search", s.handleSearch)
		api.HandleFunc("GET /stats", s.handleStats)
		api.HandleFunc("GET /reports", s.handleReport)
		api.HandleFunc("GET /export", s.handleExport)
		api.HandleFunc("POST /import", s.handleImport)
		api.HandleFunc("GET /settings", s.handleGetSettings)
		api.HandleFunc("PUT /settings", s.handleUpdateSettings)
		api.HandleFunc("GET /changes", s.handleChangesList)

		// named queries and entity operations, ServeMux picks the most specific pattern over generic crud
		api.HandleFunc("GET /jobs/summaries", s.handleJobSummaries)
		api.HandleFunc("GET /jobs/{id}/summary", s.handleJobSummary)
		api.HandleFunc("GET /logs/by-job/{id}", s.handleLogsByJob)
		api.HandleFunc("GET /logs/by-date/{date}", s.handleLogsByDate)
		api.HandleFunc("POST /logs/with-time-entry", s.handleRecordDay)
		api.HandleFunc("GET /tasks/by-job/{id}", s.handleTasksByJob)
		api.HandleFunc("GET /tasks/by-status/{status}", s.handleTasksByStatus)
		api.HandleFunc("GET /tasks/by-priority/{priority}", s.handleTasksByPriority)
		api.HandleFunc("GET /orders/by-job/{id}", s.handleOrdersByJob)
		api.HandleFunc("GET /orders/pending", s.handlePendingOrders)
		api.HandleFunc("GET /tools/by-job/{id}", s.handleToolsByJob)
		api.HandleFunc("GET /tools/unassigned", s.handleUnassignedTools)
		api.HandleFunc("GET /tools/maintenance-due", s.handleMaintenanceDue)
		api.HandleFunc("GET /inventory/low-stock", s.handleLowStock)
		api.HandleFunc("GET /checklists/templates/{type}", s.handleChecklistTemplate)
		api.HandleFunc("POST /checklists/from-template", s.handleChecklistFromTemplate)
		api.HandleFunc("POST /checklists/{id}/duplicate", s.handleDuplicateChecklist)
		api.HandleFunc("GET /timeEntries/by-job/{id}", s.handleTimeEntriesByJob)
		api.HandleFunc("GET /timeEntries/range", s.handleTimeEntriesRange)

		registerCRUD[site.Job](api, s.app.Jobs)
		registerCRUD[site.DailyLog](api, s.app.Logs)
		registerCRUD[site.Task](api, s.app.Tasks)
		registerCRUD[site.Order](api, s.app.Orders)
		registerCRUD[site.Tool](api, s.app.Tools)
		registerCRUD[site.InventoryItem](api, s.app.Inventory)
		registerCRUD[site.CrewMember](api, s.app.Crew)
		registerCRUD[site.Checklist](api, s.app.Checklists)
		registerCRUD[site.TimeEntry](api, s.app.TimeEntries)
	})

	// websocket feed, no request logger or size limit wrappers
	router.Mount("/ws").Route(func(ws *routegroup.Bundle) {
		ws.HandleFunc("GET /changes", s.handleChangesSocket)
	})

	return router
}
