package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type samplePayload struct {
	Jobs map[string]string `json:"jobs"`
}

func TestStore_SaveFlushLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "state.json", 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Save(samplePayload{Jobs: map[string]string{"a": "queued"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "state.json")); err != nil {
		t.Fatalf("state file not found: %v", err)
	}

	var loaded samplePayload
	ok, err := s.Load(&loaded)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected Load to report found=true")
	}
	if loaded.Jobs["a"] != "queued" {
		t.Errorf("loaded.Jobs[a] = %q, want queued", loaded.Jobs["a"])
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "state.json", time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out samplePayload
	ok, err := s.Load(&out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected Load to report found=false for missing file")
	}
}

func TestStore_DebouncedSaveCoalesces(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "state.json", 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = s.Save(samplePayload{Jobs: map[string]string{"a": "queued"}})
	_ = s.Save(samplePayload{Jobs: map[string]string{"a": "running"}})

	time.Sleep(60 * time.Millisecond)

	var loaded samplePayload
	if _, err := s.Load(&loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Jobs["a"] != "running" {
		t.Errorf("expected coalesced last write to win, got %q", loaded.Jobs["a"])
	}
}

func TestStore_CloseFlushesSynchronously(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "state.json", time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = s.Save(samplePayload{Jobs: map[string]string{"a": "queued"}})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := New(dir, "state.json", time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var loaded samplePayload
	ok, err := s2.Load(&loaded)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok || loaded.Jobs["a"] != "queued" {
		t.Errorf("expected Close to have flushed synchronously, got %+v, ok=%v", loaded, ok)
	}
}

func TestStore_UnsupportedSchemaVersionRejected(t *testing.T) {
	dir := t.TempDir()
	raw := `{"schemaVersion":"2.0.0","payload":{"jobs":{}}}`
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte(raw), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := New(dir, "state.json", time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out samplePayload
	if _, err := s.Load(&out); err == nil {
		t.Fatal("expected error loading unsupported schema version")
	}
}

func TestJobLog_WriteAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.log")
	l, err := NewJobLog(path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewJobLog: %v", err)
	}

	l.SectionStart("work")
	l.WritelnPhase("work", "hello")
	l.SectionEnd("work")

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	for _, want := range []string{"SECTION START", "hello", "SECTION END"} {
		if !strings.Contains(content, want) {
			t.Errorf("log missing expected marker %q: %s", want, content)
		}
	}
}
