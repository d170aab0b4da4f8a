// Copyright 2025 The Pipebench Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipetest runs an in-process stand-in for the pipe service. It
// reproduces the wire contract the workload generator depends on: bearer
// auth, JSON number bodies, {"error": "..."} payloads and the
// 200/401/404/422 status mapping.
package pipetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

const pipeCount = 3

// Request records one observed call for test assertions.
type Request struct {
	Method string
	Path   string
	Body   string
}

// Server is a fake pipe service. Zero-cost modifiers and implicit user
// creation keep the happy path green by default; tests force failures with
// SetStatus or by applying the same modifier twice.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	token    string // when set, only this bearer token is accepted
	values   map[int]int64
	scores   map[string]int64
	costs    map[string]int64
	applied  map[int]map[string]bool
	forced   map[string]int // method -> forced status, 0 means normal
	requests []Request
}

// New starts the fake service. Call Close when done.
func New() *Server {
	s := &Server{
		values:  map[int]int64{},
		scores:  map[string]int64{},
		costs:   map[string]int64{},
		applied: map[int]map[string]bool{},
		forced:  map[string]int{},
	}
	for i := 1; i <= pipeCount; i++ {
		s.values[i] = 0
		s.applied[i] = map[string]bool{}
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) Close() { s.srv.Close() }

// Addr returns the host:port the fake service listens on.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// Requests returns a copy of every call seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequireToken makes the service reject any other bearer token with 401.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetPipeValue sets the current accumulated value of a pipe.
func (s *Server) SetPipeValue(pipe int, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[pipe] = value
}

// SetScore sets a user's score, which modifier costs are paid from.
func (s *Server) SetScore(token string, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[token] = score
}

// SetModifierCost makes a modifier cost score to apply. Default is free.
func (s *Server) SetModifierCost(modifier string, cost int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs[modifier] = cost
}

// SetStatus forces every request with the given method to answer with code.
// A zero code restores normal behavior.
func (s *Server) SetStatus(method string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[method] = code
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, _ := io.ReadAll(io.LimitReader(r.Body, 1024))
	body := strings.TrimSpace(string(b))
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})

	if code := s.forced[r.Method]; code != 0 {
		writeError(w, code, "Forced")
		return
	}

	token, ok := bearerToken(r)
	if !ok || (s.token != "" && token != s.token) {
		writeError(w, http.StatusUnauthorized, "UserNotFound")
		return
	}

	pipe, op, ok := splitPipePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "PipeNotFound")
		return
	}
	if pipe < 1 || pipe > pipeCount {
		writeError(w, http.StatusNotFound, "PipeNotFound")
		return
	}

	switch {
	case op == "" && r.Method == http.MethodPut:
		value := s.values[pipe]
		s.values[pipe] = 0
		s.scores[token] += value
		writeJSON(w, value)
	case op == "value" && r.Method == http.MethodGet:
		writeJSON(w, s.values[pipe])
	case op == "modifier" && r.Method == http.MethodPost:
		var input struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(body), &input); err != nil || input.Type == "" {
			writeError(w, http.StatusBadRequest, "BadInput")
			return
		}
		if s.applied[pipe][input.Type] {
			writeError(w, http.StatusUnprocessableEntity, "ModifierAlreadyApplied")
			return
		}
		if cost := s.costs[input.Type]; s.scores[token] < cost {
			writeError(w, http.StatusUnprocessableEntity, "NotEnoughScore")
			return
		}
		s.scores[token] -= s.costs[input.Type]
		s.applied[pipe][input.Type] = true
		writeJSON(w, nil)
	default:
		writeError(w, http.StatusNotFound, "PipeNotFound")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, token != ""
}

// splitPipePath parses /api/pipe/{n} and /api/pipe/{n}/{op}.
func splitPipePath(path string) (pipe int, op string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "api" || parts[1] != "pipe" {
		return 0, "", false
	}
	pipe, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, "", false
	}
	if len(parts) == 4 {
		op = parts[3]
	}
	return pipe, op, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`+"\n", kind)
}
