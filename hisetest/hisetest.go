// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// This package contains testing utilities for the HISE SDK.
package hisetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Enables DEBUG log messages for the SDK's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

//------------
// Authorizer
//------------

// An Authorizer that always names the same server and token.
type Authorizer struct {
	Host, Token string
}

func (a Authorizer) Server(ctx context.Context) (string, error) {
	return a.Host, nil
}

func (a Authorizer) Headers(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.Token)
	return headers, nil
}

//-------------
// Fake server
//-------------

// a request received by a fake server
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// decodes the request's JSON body into v
func (r Request) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// A Server is a fake HISE backend: an HTTP test server whose routes are
// registered by each test, and which remembers every request it receives.
type Server struct {
	*httptest.Server
	Router *mux.Router

	mu       sync.Mutex
	requests []Request
	searches map[string]http.HandlerFunc
}

// Starts a fake backend with no routes.
func NewServer() *Server {
	s := &Server{
		Router:   mux.NewRouter(),
		searches: make(map[string]http.HandlerFunc),
	}
	s.Router.Use(s.record)
	s.Server = httptest.NewServer(s.Router)
	return s
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Returns the host:port at which the server listens.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// Returns an Authorizer that directs requests to this server.
func (s *Server) Authorizer() Authorizer {
	return Authorizer{Host: s.Host(), Token: "test-token"}
}

// Returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Forgets all requests received so far.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Registers a handler for the given method and path.
func (s *Server) Handle(method, path string, handler http.HandlerFunc) {
	s.Router.HandleFunc("/"+strings.TrimPrefix(path, "/"), handler).Methods(method)
}

// Registers a route that responds with the given status and JSON body.
func (s *Server) HandleJSON(method, path string, status int, body any) {
	s.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Returns a body reporting an error the way HISE services do.
func ErrorBody(message string) map[string]any {
	return map[string]any{
		"Errors": []map[string]any{{"Message": message}},
	}
}

// Returns a YAML configuration directing every service at the given host and
// using the given home directory.
func Config(host, homeDir string) string {
	return fmt.Sprintf(`
services:
  ledger:
    server: %[1]s
    paths:
      ledger_name: ledger
      file_search_path: ledger/file/search
      sample_search_path: ledger/sample/search
      subject_search_path: ledger/subject/search
      result_file_search_path: ledger/resultfile
  hydration:
    server: %[1]s
    paths:
      file_search_path: hydration/file
      query_search_path: hydration/query
      download_path: hydration/download
      upload_path: hydration/source/studyspace/file
      static_image_path: hydration/static/image
      user_folder_path: hydration/userfolder
      project_folder_path: hydration/projectfolder
      project_store_path: hydration/projectstore
  toolchain:
    server: %[1]s
    paths:
      upload_file_path: toolchain/upload
      abstraction_path: toolchain/abstraction
      visualization_path: toolchain/visualization
      save_dash_app_path: toolchain/visualization/dash
      deploy_dash_app_path: toolchain/deploy/visualization
      scheduler_path: toolchain/scheduler
  tracer:
    server: %[1]s
    paths:
      study_space_path: tracer/studyspace
      trace_path: tracer/trace
      file_set_path: tracer/fileset
      project_path: tracer/project
      filetype_path: tracer/filetype
  amds:
    server: %[1]s
    paths:
      project_path: amds/project
workspace:
  home_dir: %[2]s
  cache_dir: input
  cache_log_name: .hise_download_log.csv
  field_cache_ttl: 0
  notebook: analysis.ipynb
upload:
  harvest_lower_bound_mb: 1
abstraction:
  configs_dir: %[2]s/viz_configs
`, host, homeDir)
}

// field names listed by the fake ledger for each collection
var FieldListings = map[string][]string{
	"file": {"file.fileType", "file.panel", "file.sampleGuid", "cohort.cohortGuid",
		"sample.sampleKitGuid", "descriptor"},
	"sample": {"sample.sampleKitGuid", "sample.visitName", "cohort.cohortGuid",
		"sample.cohort"},
	"subject": {"subject.subjectGuid", "subject.cohort", "subject.sex",
		"cohort.cohortGuid", "subject.visitName"},
}

// Registers the ledger's search routes. Requests for field names are answered
// from FieldListings; other searches go to the handler registered for the
// collection with HandleSearch.
func (s *Server) HandleFieldListings() {
	for collection := range FieldListings {
		collection := collection
		s.Handle("POST", fmt.Sprintf("ledger/%s/search", collection),
			func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("field_names") == "true" {
					WriteJSON(w, 200, FieldListings[collection])
					return
				}
				s.mu.Lock()
				handler, found := s.searches[collection]
				s.mu.Unlock()
				if !found {
					WriteJSON(w, 404, ErrorBody("no search handler for "+collection))
					return
				}
				handler(w, r)
			})
	}
}

// Sets the handler for ledger searches of the given collection.
func (s *Server) HandleSearch(collection string, handler http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches[collection] = handler
}
