// Package runlooptest provides an in-memory Runloop blueprint API for tests.
package runlooptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
)

// APIKey is the bearer token the fake server accepts
const APIKey = "test-api-key"

// Server is a fake blueprint API backed by httptest.
//
// Each created blueprint starts in "building". Every GET advances it through
// the status script registered for its name (default: build_complete).
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	seq        int
	blueprints map[string]*entry
	scripts    map[string][]string
	createErr  map[string]int
	getErrs    int
	creates    []runloop.CreateBlueprintRequest
	gets       map[string]int
}

type entry struct {
	bp     runloop.Blueprint
	script []string
}

// NewServer starts a fake server that is closed when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{
		blueprints: make(map[string]*entry),
		scripts:    make(map[string][]string),
		createErr:  make(map[string]int),
		gets:       make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.auth)
	r.Route("/v1/blueprints", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Get("/{id}", s.get)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Client returns a runloop client pointed at the fake server
func (s *Server) Client(t testing.TB) *runloop.Client {
	c, err := runloop.NewClient(s.URL, APIKey)
	if err != nil {
		t.Fatalf("create runloop client: %v", err)
	}
	return c
}

// Script sets the statuses a blueprint named name reports on successive GETs.
// The last status repeats once the script is exhausted.
func (s *Server) Script(name string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = statuses
}

// FailCreate makes creates for name fail with the given HTTP status
func (s *Server) FailCreate(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr[name] = status
}

// FailGets makes the next n GET requests for a single blueprint return 503
func (s *Server) FailGets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErrs = n
}

// Seed registers an existing blueprint without going through create
func (s *Server) Seed(name, status string) runloop.Blueprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	bp := runloop.Blueprint{ID: fmt.Sprintf("bpt_%04d", s.seq), Name: name, Status: status}
	s.blueprints[bp.ID] = &entry{bp: bp}
	return bp
}

// Creates returns the create requests received so far
func (s *Server) Creates() []runloop.CreateBlueprintRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runloop.CreateBlueprintRequest(nil), s.creates...)
}

// Gets returns how many times blueprint id has been retrieved
func (s *Server) Gets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req runloop.CreateBlueprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates = append(s.creates, req)
	if status, ok := s.createErr[req.Name]; ok {
		writeJSON(w, status, map[string]string{"message": "create rejected"})
		return
	}

	s.seq++
	e := &entry{
		bp: runloop.Blueprint{
			ID:     fmt.Sprintf("bpt_%04d", s.seq),
			Name:   req.Name,
			Status: runloop.StatusBuilding,
		},
		script: s.scripts[req.Name],
	}
	if len(e.script) == 0 {
		e.script = []string{runloop.StatusBuildComplete}
	}
	s.blueprints[e.bp.ID] = e

	writeJSON(w, http.StatusOK, e.bp)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErrs > 0 {
		s.getErrs--
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "try again"})
		return
	}

	e, ok := s.blueprints[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "blueprint not found"})
		return
	}

	s.gets[id]++
	if len(e.script) > 0 {
		e.bp.Status = e.script[0]
		if len(e.script) > 1 {
			e.script = e.script[1:]
		}
		if e.bp.Status == runloop.StatusFailed {
			e.bp.FailureReason = "dockerfile step failed"
		}
	}

	writeJSON(w, http.StatusOK, e.bp)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	after := r.URL.Query().Get("starting_after")
	name := r.URL.Query().Get("name")

	s.mu.Lock()
	all := make([]runloop.Blueprint, 0, len(s.blueprints))
	for _, e := range s.blueprints {
		if name != "" && e.bp.Name != name {
			continue
		}
		all = append(all, e.bp)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := 0
	if after != "" {
		for i, bp := range all {
			if bp.ID == after {
				start = i + 1
				break
			}
		}
	}
	page := all[start:]
	hasMore := false
	if limit > 0 && len(page) > limit {
		page = page[:limit]
		hasMore = true
	}

	writeJSON(w, http.StatusOK, runloop.BlueprintList{Blueprints: page, HasMore: hasMore})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
