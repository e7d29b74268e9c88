package integration

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/eventz"
)

// Event payloads for an editor-shaped pipeline: keystrokes change a
// document, cheap synchronous handlers fan the change out, and the
// expensive reactions (diagnostics, VCS decorations) run debounced.

type documentChanged struct {
	Path     string
	Revision int
}

type diagnosticsPublished struct {
	Path  string
	Count int
}

func TestEditorPipeline(t *testing.T) {
	clk := clockz.NewFakeClock()
	logger := log.New(io.Discard)

	reg := eventz.NewRegistry(eventz.WithLogger(logger))

	// Debounced diagnostics: recompute once per burst of edits, then
	// publish the result back onto the bus.
	var mu sync.Mutex
	var published []diagnosticsPublished

	diagnostics := eventz.Debounce(20*time.Millisecond, func(ctx context.Context, ev documentChanged) error {
		eventz.DispatchOn(reg, ctx, diagnosticsPublished{Path: ev.Path, Count: ev.Revision})
		return nil
	},
		eventz.WithHookName("diagnostics"),
		eventz.WithHookClock(clk),
		eventz.WithHookLogger(logger),
	)
	defer diagnostics.Close()

	// Synchronous handlers: a cheap highlighter invalidation and the
	// forward into the debounce worker.
	var highlightCalls int
	eventz.RegisterNamedOn(reg, "highlighter", func(ctx context.Context, ev documentChanged) error {
		highlightCalls++
		return nil
	})
	eventz.RegisterNamedOn(reg, "diagnostics.forward", func(ctx context.Context, ev documentChanged) error {
		diagnostics.Emit(ev)
		return nil
	})
	eventz.RegisterNamedOn(reg, "diagnostics.sink", func(ctx context.Context, ev diagnosticsPublished) error {
		mu.Lock()
		published = append(published, ev)
		mu.Unlock()
		return nil
	})
	reg.Finalize()

	// A burst of rapid edits.
	ctx := context.Background()
	for rev := 1; rev <= 5; rev++ {
		eventz.DispatchOn(reg, ctx, documentChanged{Path: "main.go", Revision: rev})
	}

	// Every edit hit the cheap handler synchronously.
	if highlightCalls != 5 {
		t.Fatalf("Expected 5 highlighter calls, got %d", highlightCalls)
	}

	// Nothing published yet: diagnostics are debounced.
	mu.Lock()
	early := len(published)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("Diagnostics published before the burst quieted: %d", early)
	}

	// Let the worker pick up the burst, then run out the window.
	waitForWaiters(t, clk)
	clk.Advance(20 * time.Millisecond)
	clk.BlockUntilReady()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for debounced diagnostics")
		}
		time.Sleep(time.Millisecond)
	}

	// One coalesced publish, carrying the newest revision.
	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 {
		t.Fatalf("Expected exactly 1 diagnostics publish, got %d", len(published))
	}
	if published[0].Count != 5 {
		t.Errorf("Expected newest revision 5, got %d", published[0].Count)
	}
	if published[0].Path != "main.go" {
		t.Errorf("Expected path main.go, got %q", published[0].Path)
	}
}

func TestPipelineSurvivesFailingSubsystem(t *testing.T) {
	logger := log.New(io.Discard)
	reg := eventz.NewRegistry(eventz.WithLogger(logger))

	// A panicking handler wired between two healthy ones must not
	// break delivery, and the producer must never see the failure.
	var before, after bool
	eventz.RegisterNamedOn(reg, "vcs.decorations", func(ctx context.Context, ev documentChanged) error {
		before = true
		return nil
	})
	eventz.RegisterNamedOn(reg, "broken.plugin", func(ctx context.Context, ev documentChanged) error {
		panic("plugin state corrupted")
	})
	eventz.RegisterNamedOn(reg, "statusline", func(ctx context.Context, ev documentChanged) error {
		after = true
		return nil
	})
	reg.Finalize()

	eventz.DispatchOn(reg, context.Background(), documentChanged{Path: "a.go", Revision: 1})

	if !before || !after {
		t.Errorf("Expected both healthy handlers to run: before=%v after=%v", before, after)
	}
}

func waitForWaiters(t *testing.T, clk *clockz.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !clk.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for debounce worker to arm its timer")
		}
		time.Sleep(time.Millisecond)
	}
}
