// Package hostingtest provides an in-process fake of the repository hosting
// API and raw content endpoint for tests.
package hostingtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

// Branch is the state of one branch of a fake repository.
type Branch struct {
	CommitSHA string
	TreeSHA   string

	// Files maps repository-relative path to content.
	Files map[string]string
}

// ChangedFile is a file entry of a fake comparison.
type ChangedFile struct {
	Filename         string
	PreviousFilename string
	Status           string
	Changes          int
}

// Comparison is a canned compare result.
type Comparison struct {
	Files   []ChangedFile
	Commits []string

	// Status, when non-zero, is returned instead of the comparison.
	Status int
}

// Repo is a fake repository.
type Repo struct {
	Branches map[string]*Branch

	// Comparisons is keyed by "base...head".
	Comparisons map[string]*Comparison
}

// Server is a fake hosting server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	repos    map[string]*Repo
	failures map[string]int
	requests []string
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		repos:    make(map[string]*Repo),
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/git/trees/{ref...}", s.handleTree)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/compare/{basehead}", s.handleCompare)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/commits/{ref...}", s.handleCommit)
	mux.HandleFunc("GET /raw/{owner}/{repo}/{ref}/{path...}", s.handleRaw)

	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// APIBaseURL returns the base URL for the REST API.
func (s *Server) APIBaseURL() string { return s.URL + "/api/" }

// RawBaseURL returns the base URL for raw content.
func (s *Server) RawBaseURL() string { return s.URL + "/raw/" }

// SetRepo registers a repository under owner/name.
func (s *Server) SetRepo(fullName string, repo *Repo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo.Comparisons == nil {
		repo.Comparisons = make(map[string]*Comparison)
	}
	s.repos[fullName] = repo
}

// Fail makes every request whose path contains substr answer with status.
func (s *Server) Fail(substr string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[substr] = status
}

// Requests returns the paths requested so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// RequestCount returns how many requests contained substr.
func (s *Server) RequestCount(substr string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.Contains(r, substr) {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Path)
		status := 0
		for substr, code := range s.failures {
			if strings.Contains(r.URL.Path, substr) {
				status = code
			}
		}
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(r *http.Request) (*Repo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[r.PathValue("owner")+"/"+r.PathValue("repo")]
	return repo, ok
}

func (s *Server) branch(repo *Repo, ref string) (*Branch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := repo.Branches[ref]; ok {
		return b, true
	}
	for _, b := range repo.Branches {
		if b.CommitSHA == ref || b.TreeSHA == ref {
			return b, true
		}
	}
	return nil, false
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, ok := s.branch(repo, r.PathValue("ref"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	type entry struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}

	paths := make([]string, 0, len(b.Files))
	for p := range b.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	dirs := make(map[string]bool)
	entries := make([]entry, 0, len(paths))
	for _, p := range paths {
		if i := strings.LastIndex(p, "/"); i > 0 && !dirs[p[:i]] {
			dirs[p[:i]] = true
			entries = append(entries, entry{Path: p[:i], Type: "tree"})
		}
		entries = append(entries, entry{Path: p, Type: "blob"})
	}

	writeJSON(w, map[string]any{
		"sha":       b.TreeSHA,
		"tree":      entries,
		"truncated": false,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	cmp, ok := repo.Comparisons[r.PathValue("basehead")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if cmp.Status != 0 {
		w.WriteHeader(cmp.Status)
		return
	}

	head := ""
	commits := make([]map[string]any, 0, len(cmp.Commits))
	for _, sha := range cmp.Commits {
		commits = append(commits, map[string]any{"sha": sha})
		head = sha
	}

	files := make([]map[string]any, 0, len(cmp.Files))
	for _, f := range cmp.Files {
		file := map[string]any{
			"filename": f.Filename,
			"status":   f.Status,
			"changes":  f.Changes,
			"raw_url":  s.RawBaseURL() + r.PathValue("owner") + "/" + r.PathValue("repo") + "/" + head + "/" + f.Filename,
		}
		if f.PreviousFilename != "" {
			file["previous_filename"] = f.PreviousFilename
		}
		files = append(files, file)
	}

	writeJSON(w, map[string]any{
		"commits": commits,
		"files":   files,
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, ok := s.branch(repo, r.PathValue("ref"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]any{
		"sha": b.CommitSHA,
		"commit": map[string]any{
			"tree": map[string]any{"sha": b.TreeSHA},
		},
	})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, ok := s.branch(repo, r.PathValue("ref"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	content, ok := b.Files[r.PathValue("path")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Write([]byte(content))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
