package hooks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/hooks"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("bad log line %q: %v", l, err)
		}
		out = append(out, m)
	}
	return out
}

// ── Levels ────────────────────────────────────────────────────────────────────

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := hooks.ParseLevel(in); got != want {
			t.Errorf("%q: got %v, want %v", in, got, want)
		}
	}
}

// ── Recorders ─────────────────────────────────────────────────────────────────

func TestSlogRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := hooks.NewSlogRecorder(jsonLogger(&buf))
	r.Record(core.Event{
		Level:    core.LevelWarn,
		Op:       "recompress.lossy",
		Category: string(apperrors.CategoryExternalTool),
		Path:     "a.png",
		Message:  "quantizer failed",
		Err:      errors.New("exit status 99"),
		Fields:   map[string]any{"intensity": 40},
	})

	got := lines(t, &buf)
	if len(got) != 1 {
		t.Fatalf("lines: %d", len(got))
	}
	e := got[0]
	if e["level"] != "WARN" || e["msg"] != "quantizer failed" || e["op"] != "recompress.lossy" {
		t.Errorf("record: %v", e)
	}
	if e["category"] != "external_tool" || e["error"] != "exit status 99" || e["intensity"] != float64(40) {
		t.Errorf("attributes: %v", e)
	}
}

func TestMemoryRecorder_Concurrent(t *testing.T) {
	r := hooks.NewMemoryRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := "fit"
			if i%2 == 0 {
				op = "resize"
			}
			r.Record(core.Event{Op: op})
		}(i)
	}
	wg.Wait()

	if n := len(r.Events()); n != 50 {
		t.Errorf("events: %d", n)
	}
	if r.Count("fit") != 25 || r.Count("resize") != 25 || r.Count("bake") != 0 {
		t.Errorf("counts: fit %d resize %d", r.Count("fit"), r.Count("resize"))
	}
	events := r.Events()
	events[0].Op = "mutated"
	if r.Count("mutated") != 0 {
		t.Error("Events returned the internal slice")
	}
}

// ── Hooks ─────────────────────────────────────────────────────────────────────

func TestMetricsHook(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	h := hooks.NewMetricsHook(m)
	ctx := context.Background()
	a := &core.Asset{Recompression: &core.RecompressionOutcome{InputSize: 1000, OutputSize: 600}}

	h.BeforeStep(ctx, "recompress", a)
	h.AfterStep(ctx, "recompress", a, 20*time.Millisecond, nil)
	h.AfterStep(ctx, "recompress", a, 10*time.Millisecond, nil)
	h.AfterStep(ctx, "decode", nil, time.Millisecond, apperrors.New(apperrors.CategoryDecode, "decode", apperrors.ErrNoDecoder))

	s := m.Snapshot()
	if s.StepCalls["recompress"] != 2 || s.StepDurationsMs["recompress"] != 30 {
		t.Errorf("recompress: calls %d ms %d", s.StepCalls["recompress"], s.StepDurationsMs["recompress"])
	}
	if s.StepErrors["decode"] != 1 || s.StepErrors["recompress"] != 0 {
		t.Errorf("errors: %v", s.StepErrors)
	}
	if s.TotalThroughputB != 2000 {
		t.Errorf("throughput: %d", s.TotalThroughputB)
	}
}

func TestLoggingHook(t *testing.T) {
	var buf bytes.Buffer
	h := hooks.NewLoggingHook(hooks.NewSlogLogger(jsonLogger(&buf)))
	ctx := context.Background()
	a := &core.Asset{Name: "rock"}

	h.BeforeStep(ctx, "fit_alpha", a)
	h.AfterStep(ctx, "fit_alpha", a, time.Millisecond, nil)
	h.AfterStep(ctx, "bake", a, time.Millisecond, apperrors.New(apperrors.CategoryInput, "bake", apperrors.ErrNoOutput))

	got := lines(t, &buf)
	if len(got) != 3 {
		t.Fatalf("lines: %d", len(got))
	}
	if got[0]["msg"] != "pipeline.step.start" || got[0]["asset"] != "rock" || got[0]["texture"] != "none" {
		t.Errorf("start: %v", got[0])
	}
	if got[2]["level"] != "ERROR" || got[2]["step"] != "bake" {
		t.Errorf("error: %v", got[2])
	}
}
