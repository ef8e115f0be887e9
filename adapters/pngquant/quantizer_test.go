package pngquant_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Skryldev/asset-optimizer/adapters/pngquant"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// fakeTool writes an executable shell script standing in for pngquant.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pngquant")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestArgs(t *testing.T) {
	cases := []struct {
		name  string
		speed int
		q     int
		strip bool
		want  []string
	}{
		{"strip", 3, 80, true, []string{"--force", "--output", "out.png", "--speed", "3", "--quality", "0-80", "--strip", "--", "in.png"}},
		{"keep metadata", 11, 1, false, []string{"--force", "--output", "out.png", "--speed", "11", "--quality", "0-1", "--", "in.png"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pngquant.Args("in.png", "out.png", tc.speed, tc.q, tc.strip)
			if !slices.Equal(got, tc.want) {
				t.Errorf("got %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestQuantize_MissingBinary(t *testing.T) {
	q := pngquant.New(filepath.Join(t.TempDir(), "no-such-pngquant"), time.Second)
	err := q.Quantize(context.Background(), "in.png", "out.png", 3, 80, true)
	if !errors.Is(err, apperrors.ErrToolUnavailable) {
		t.Fatalf("got %v", err)
	}
	if !apperrors.IsCategory(err, apperrors.CategoryExternalTool) {
		t.Errorf("category: %s", apperrors.CategoryOf(err))
	}
}

func TestQuantize_PassesArguments(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "args.txt")
	tool := fakeTool(t, `printf '%s\n' "$@" > "`+log+`"
for a; do last=$a; done
cp "$last" "$3"`)
	in, out := filepath.Join(dir, "in.png"), filepath.Join(dir, "out.png")
	os.WriteFile(in, []byte("pixels"), 0o644)

	if err := pngquant.New(tool, time.Minute).Quantize(context.Background(), in, out, 4, 70, true); err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	raw, _ := os.ReadFile(log)
	got := strings.Fields(string(raw))
	if want := pngquant.Args(in, out, 4, 70, true); !slices.Equal(got, want) {
		t.Errorf("args: got %q, want %q", got, want)
	}
	if data, _ := os.ReadFile(out); string(data) != "pixels" {
		t.Errorf("output: %q", data)
	}
}

func TestQuantize_ExitCodesSurface(t *testing.T) {
	tool := fakeTool(t, `echo "quality too low" >&2
exit 99`)
	err := pngquant.New(tool, time.Minute).Quantize(context.Background(), "in.png", "out.png", 3, 40, false)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "not reachable") || !strings.Contains(err.Error(), "quality too low") {
		t.Errorf("error lacks detail: %v", err)
	}
	if !apperrors.IsCategory(err, apperrors.CategoryExternalTool) {
		t.Errorf("category: %s", apperrors.CategoryOf(err))
	}
}

func TestQuantize_TimeoutKillsProcess(t *testing.T) {
	tool := fakeTool(t, "exec sleep 30")
	q := pngquant.New(tool, 100*time.Millisecond)
	q.WaitDelay = 100 * time.Millisecond

	start := time.Now()
	err := q.Quantize(context.Background(), "in.png", "out.png", 3, 80, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if d := time.Since(start); d > 10*time.Second {
		t.Errorf("took %v; process was not killed", d)
	}
}
