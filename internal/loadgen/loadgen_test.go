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

package loadgen

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pipebench/pipebench/internal/pipetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

// scriptedBackend records every call and answers from canned results,
// so worker behavior can be tested without HTTP in the way.
type scriptedBackend struct {
	value                             int64
	collectErr, valueErr, modifierErr error

	calls     int
	collects  []int
	values    []int
	modifiers []appliedModifier

	onCall func(total int)
}

type appliedModifier struct {
	pipe int
	kind string
}

func (b *scriptedBackend) Collect(_ context.Context, pipe int) (int64, error) {
	b.record()
	b.collects = append(b.collects, pipe)
	return b.value, b.collectErr
}

func (b *scriptedBackend) Value(_ context.Context, pipe int) (int64, error) {
	b.record()
	b.values = append(b.values, pipe)
	return b.value, b.valueErr
}

func (b *scriptedBackend) ApplyModifier(_ context.Context, pipe int, modifier string) error {
	b.record()
	b.modifiers = append(b.modifiers, appliedModifier{pipe: pipe, kind: modifier})
	return b.modifierErr
}

func (b *scriptedBackend) record() {
	b.calls++
	if b.onCall != nil {
		b.onCall(b.calls)
	}
}

func TestWorkerIssuesOneRequestPerOperation(t *testing.T) {
	backend := pipetest.New()
	defer backend.Close()

	w := NewWorker(testLogger(), NewClient(backend.Addr(), "sometoken", 0), rand.New(rand.NewSource(7)), Config{MaxOperations: 25})
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	reqs := backend.Requests()
	if len(reqs) != 25 {
		t.Fatalf("expected exactly 25 requests for 25 operations, got %d", len(reqs))
	}
	known := regexp.MustCompile(`^/api/pipe/[123](/value|/modifier)?$`)
	for _, r := range reqs {
		if !known.MatchString(r.Path) {
			t.Fatalf("request to an unknown path: %s %s", r.Method, r.Path)
		}
	}
}

func TestWorkerUniformDraws(t *testing.T) {
	backend := &scriptedBackend{}
	w := NewWorker(testLogger(), backend, rand.New(rand.NewSource(3)), Config{MaxOperations: 6000})
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Operation draws: each of the three within 20% of the expected third.
	counts := []int{len(backend.collects), len(backend.values), len(backend.modifiers)}
	for i, c := range counts {
		if c < 1600 || c > 2400 {
			t.Fatalf("operation %d drawn %d times out of 6000, expected ~2000", i, c)
		}
	}

	// Pipe draws: only {1,2,3}, each within 20% of the expected third.
	pipes := map[int]int{}
	for _, p := range backend.collects {
		pipes[p]++
	}
	for _, p := range backend.values {
		pipes[p]++
	}
	for _, m := range backend.modifiers {
		pipes[m.pipe]++
	}
	for p, c := range pipes {
		if p < 1 || p > Pipes {
			t.Fatalf("pipe %d out of range [1,%d]", p, Pipes)
		}
		if c < 1600 || c > 2400 {
			t.Fatalf("pipe %d drawn %d times out of 6000, expected ~2000", p, c)
		}
	}

	// Modifier draws: only the five known kinds, roughly uniform.
	kinds := map[string]int{}
	for _, m := range backend.modifiers {
		kinds[m.kind]++
	}
	valid := map[string]bool{}
	for _, m := range Modifiers {
		valid[m] = true
	}
	expect := len(backend.modifiers) / len(Modifiers)
	for k, c := range kinds {
		if !valid[k] {
			t.Fatalf("unknown modifier drawn: %q", k)
		}
		if c < expect*7/10 || c > expect*13/10 {
			t.Fatalf("modifier %q drawn %d times, expected ~%d", k, c, expect)
		}
	}
	if len(kinds) != len(Modifiers) {
		t.Fatalf("expected all %d modifiers to be drawn, saw %d", len(Modifiers), len(kinds))
	}
}

func TestWorkerContinuesOnRejection(t *testing.T) {
	backend := &scriptedBackend{modifierErr: ErrModifierRejected}
	w := NewWorker(testLogger(), backend, rand.New(rand.NewSource(11)), Config{MaxOperations: 300})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("rejections must not stop the worker, got %v", err)
	}
	if backend.calls != 300 {
		t.Fatalf("expected 300 operations, got %d", backend.calls)
	}
	if len(backend.modifiers) == 0 {
		t.Fatal("expected at least one modifier draw in 300 operations")
	}
}

func TestWorkerStopsOnFatalError(t *testing.T) {
	boom := errors.New("unexpected status 500")
	backend := &scriptedBackend{collectErr: boom, valueErr: boom, modifierErr: boom}

	// Unbounded on purpose; the fatal outcome is the only way out.
	w := NewWorker(testLogger(), backend, rand.New(rand.NewSource(5)), Config{})
	err := w.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the backend error back, got %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("expected no operations after the fatal one, got %d calls", backend.calls)
	}
}

func TestWorkerFatalStopsFurtherRequests(t *testing.T) {
	backend := pipetest.New()
	defer backend.Close()
	backend.SetStatus(http.MethodPut, http.StatusInternalServerError)

	w := NewWorker(testLogger(), NewClient(backend.Addr(), "sometoken", 0), rand.New(rand.NewSource(13)), Config{})
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected the run to end with an error")
	}

	reqs := backend.Requests()
	if len(reqs) == 0 {
		t.Fatal("expected at least one request")
	}
	for i, r := range reqs {
		if r.Method == http.MethodPut && i != len(reqs)-1 {
			t.Fatalf("the failing collect must be the last request, found it at %d of %d", i, len(reqs))
		}
	}
	if last := reqs[len(reqs)-1]; last.Method != http.MethodPut {
		t.Fatalf("expected the run to end on the failing collect, last request was %s %s", last.Method, last.Path)
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &scriptedBackend{onCall: func(total int) {
		if total == 10 {
			cancel()
		}
	}}

	w := NewWorker(testLogger(), backend, rand.New(rand.NewSource(17)), Config{})
	if err := w.Run(ctx); err != nil {
		t.Fatalf("cancellation is a clean stop, got %v", err)
	}
	if backend.calls > 10 {
		t.Fatalf("expected no operations after cancellation, got %d calls", backend.calls)
	}
}

func TestWorkerInterval(t *testing.T) {
	backend := &scriptedBackend{}
	w := NewWorker(testLogger(), backend, rand.New(rand.NewSource(19)), Config{
		Interval:      5 * time.Millisecond,
		MaxOperations: 4,
	})

	start := time.Now()
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected pacing between operations, 4 operations finished in %s", elapsed)
	}
}

func TestWorkerLogsOutcomes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	backend := &scriptedBackend{value: 42}
	w := NewWorker(logger, backend, rand.New(rand.NewSource(23)), Config{})

	if err := w.readValue(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"pipe value", "pipe=2", "value=42"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := w.collect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "collected pipe") {
		t.Fatalf("expected a collect line, got:\n%s", buf.String())
	}

	buf.Reset()
	backend.modifierErr = ErrModifierRejected
	if err := w.applyModifier(context.Background(), 3, "shuffle"); err != nil {
		t.Fatalf("a rejection is not a worker error, got %v", err)
	}
	for _, want := range []string{"failed to apply modifier", "modifier=shuffle", "pipe=3"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, buf.String())
		}
	}
}
