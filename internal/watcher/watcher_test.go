package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
)

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingIngester) IngestFile(_ context.Context, path string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return 1, r.err
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

const testDebounce = 100 * time.Millisecond

func startWatcher(t *testing.T, root string, ing Ingester, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithDebounce(testDebounce), WithExtensions([]string{".txt", ".md"})}, opts...)
	w := New(root, ing, opts...)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, ing *recordingIngester, want int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := ing.seen(); len(got) >= want {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	got := ing.seen()
	t.Fatalf("expected %d ingested files, got %v", want, got)
	return got
}

func TestWatcher_IngestsCreatedFile(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, dir, ing)

	if err := writeFile(filepath.Join(dir, "note.txt"), "Warfarin requires INR monitoring."); err != nil {
		t.Fatal(err)
	}
	got := waitFor(t, ing, 1)
	if !strings.HasSuffix(got[0], "note.txt") {
		t.Errorf("ingested %v, want note.txt", got)
	}
}

func TestWatcher_DebounceCollapsesWrites(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, dir, ing)

	path := filepath.Join(dir, "draft.md")
	for i := 0; i < 3; i++ {
		if err := writeFile(path, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, ing, 1)
	time.Sleep(3 * testDebounce)
	if got := ing.seen(); len(got) != 1 {
		t.Errorf("expected one ingest after rapid writes, got %v", got)
	}
}

func TestWatcher_IgnoresUnsupportedAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, dir, ing)

	if err := writeFile(filepath.Join(dir, "image.png"), "binary"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, ".swap.txt"), "editor temp"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "keep.txt"), "kept"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ing, 1)
	time.Sleep(3 * testDebounce)
	got := ing.seen()
	if len(got) != 1 || !strings.HasSuffix(got[0], "keep.txt") {
		t.Errorf("expected only keep.txt, got %v", got)
	}
}

func TestWatcher_NewNestedDirectory(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, dir, ing)

	nested := filepath.Join(dir, "cardiology", "guidelines")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "afib.txt"), "Anticoagulation for atrial fibrillation."); err != nil {
		t.Fatal(err)
	}

	got := waitFor(t, ing, 1)
	found := false
	for _, p := range got {
		if strings.HasSuffix(p, "afib.txt") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected afib.txt to be ingested, got %v", got)
	}
}

func TestWatcher_IngestErrorDoesNotStopWatching(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{err: errors.New("boom")}
	startWatcher(t, dir, ing)

	if err := writeFile(filepath.Join(dir, "a.txt"), "a"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ing, 1)
	if err := writeFile(filepath.Join(dir, "b.txt"), "b"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ing, 2)
}

func TestWatcher_StopDropsPendingFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	w := New(dir, ing, WithDebounce(time.Second))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "late.txt"), "late"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(1200 * time.Millisecond)
	if got := ing.seen(); len(got) != 0 {
		t.Errorf("expected nothing ingested after Stop, got %v", got)
	}
}

func TestWatcher_ContextCancelStops(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, &recordingIngester{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not stop after context cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), &recordingIngester{})
	err := w.Start(context.Background())
	if !errors.Is(err, apperr.ErrIngestion) {
		t.Errorf("Start() error = %v, want ingestion error", err)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.pdf", []string{"pdf"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDirAndHidden(t *testing.T) {
	if !inDir("/tmp/a", "/tmp/a/b.txt") || inDir("/tmp/a", "/tmp/b") {
		t.Error("inDir mismatch")
	}
	if !hidden("/tmp/a", "/tmp/a/.git/x.txt") {
		t.Error("expected .git path to be hidden")
	}
	if hidden("/tmp/a", "/tmp/a/docs/x.txt") || hidden("/tmp/a", "/tmp/a") {
		t.Error("unexpected hidden path")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
