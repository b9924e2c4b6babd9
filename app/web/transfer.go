package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"gopkg.in/yaml.v3"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/site"
)

// handleExport writes a snapshot of all collections as a downloadable json or yaml file
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := enums.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}

	snap, err := s.app.Export(r.Context())
	if err != nil {
		sendError(w, r, err)
		return
	}

	var data []byte
	contentType := "application/json; charset=utf-8"
	switch format {
	case enums.ExportYAML:
		data, err = yaml.Marshal(snap)
		contentType = "application/yaml; charset=utf-8"
	default:
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to encode export")
		return
	}

	fname := fmt.Sprintf("sitemaster-%s.%s", snap.ExportedAt.Format(dateLayout), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fname))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[WARN] failed to write export: %v", err)
	}
}

// handleImport restores a snapshot, yaml is detected by content type or ?format=yaml
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	format, err := enums.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = enums.ExportYAML
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "failed to read request body")
		return
	}

	var snap site.Snapshot
	switch format {
	case enums.ExportYAML:
		err = yaml.Unmarshal(data, &snap)
	default:
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid snapshot")
		return
	}

	res, err := s.app.Import(r.Context(), snap)
	if errors.Is(err, site.ErrSnapshotVersion) {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}
	if err != nil {
		sendError(w, r, err)
		return
	}
	log.Printf("[INFO] import done, restored %v, rejected %v", res.Restored, res.Rejected)
	rest.RenderJSON(w, res)
}
