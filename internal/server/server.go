// Package server implements the hub's HTTP surface (spec.md §6.1): the
// dataset listing endpoint, the Range-capable archive download route,
// and a health check. Handlers are constructed with their dependencies
// injected rather than reaching for package-level globals, per spec.md
// §9's redesign note.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/datahubsync/datahubsync/pkg/hublib"
	"github.com/datahubsync/datahubsync/pkg/logging"
)

// StateSnapshotter is the read-only view of dataset state the server
// needs. state.Store satisfies it.
type StateSnapshotter interface {
	Get(name string) (hublib.DatasetState, error)
	GetAll() map[string]hublib.DatasetState
}

// Server holds the dependencies every handler needs. Construct one with
// New and mount its handlers with Server.Routes.
type Server struct {
	store StateSnapshotter
	log   logging.Logger
	clock func() time.Time
}

// New constructs a Server backed by store.
func New(store StateSnapshotter, log logging.Logger) *Server {
	return &Server{store: store, log: log, clock: time.Now}
}

// Routes returns a ServeMux with every handler mounted, ready to pass
// to http.Server.Handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datasets", s.handleListing)
	mux.HandleFunc("GET /package/{filename}", s.handlePackage)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// handleListing serves GET /api/datasets: the full set of dataset
// metadata, sorted by the map iteration the caller does not rely on
// (spec.md §6.1 does not mandate an order).
func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	all := s.store.GetAll()
	resp := hublib.ListingResponse{
		GeneratedAt: s.clock().UTC(),
		Datasets:    make([]hublib.Listing, 0, len(all)),
	}
	for name, ds := range all {
		resp.Datasets = append(resp.Datasets, ds.ToListing(name))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("server: encode listing response: %v", err)
	}
}

// handlePackage serves GET /package/{name}.zip, supporting a single
// HTTP Range request per spec.md §4.5. The handler itself answers 400
// for a bad name and 404 for an unknown or unready dataset;
// http.ServeContent implements the byte-range, If-Range and status-code
// semantics (200, 206, 416) the stdlib already gets right; there is no third-party
// range-serving library anywhere in the dependency set this hub draws
// from, only client-side range fetchers, so this layer stays on
// net/http rather than inventing its own parser.
func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	name, ok := strings.CutSuffix(filename, ".zip")
	if !ok {
		http.Error(w, "expected a .zip archive name", http.StatusBadRequest)
		return
	}
	if err := hublib.ValidateDatasetName(name); err != nil {
		http.Error(w, "invalid dataset name", http.StatusBadRequest)
		return
	}

	ds, err := s.store.Get(name)
	if err != nil {
		if errors.Is(err, hublib.ErrDatasetNotFound) {
			http.Error(w, "dataset not found", http.StatusNotFound)
			return
		}
		s.log.Error("server: lookup dataset %s: %v", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ds.PackageReady || ds.PackagePath == "" {
		http.Error(w, "package not ready", http.StatusNotFound)
		return
	}

	f, err := os.Open(ds.PackagePath)
	if err != nil {
		s.log.Error("server: open package for %s: %v", name, err)
		http.Error(w, "package unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.log.Error("server: stat package for %s: %v", name, err)
		http.Error(w, "package unavailable", http.StatusInternalServerError)
		return
	}

	if strings.Contains(r.Header.Get("Range"), ",") {
		// http.ServeContent answers a multi-range request with 206 and a
		// multipart/byteranges body; spec.md §4.5 requires 416 instead.
		http.Error(w, "multi-range requests are not supported", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("X-Dataset-Package-Size", fmt.Sprintf("%d", ds.PackageSize))
	http.ServeContent(w, r, name+".zip", info.ModTime(), f)
}

// handleHealth serves GET /health: a bare liveness probe, no dependency
// on dataset state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}
