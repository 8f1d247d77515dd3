package volume

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStagerAccumulatesAndResets(t *testing.T) {
	s, err := NewStager(filepath.Join(t.TempDir(), "stage"))
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	defer s.Close()

	if _, err := s.StageFile("a.bar", strings.NewReader("hello")); err != nil {
		t.Fatalf("StageFile: %v", err)
	}
	if _, err := s.StageFile("a.bar.2", strings.NewReader("world!!")); err != nil {
		t.Fatalf("StageFile: %v", err)
	}
	if got := s.AccumulatedSize(); got != 12 {
		t.Errorf("AccumulatedSize = %d, want 12", got)
	}
	if got := len(s.StagedFiles()); got != 2 {
		t.Errorf("staged files = %d, want 2", got)
	}

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := s.AccumulatedSize(); got != 0 {
		t.Errorf("AccumulatedSize after Reset = %d, want 0", got)
	}
	if got := len(s.StagedFiles()); got != 0 {
		t.Errorf("staged files after Reset = %d, want 0", got)
	}
	// Reset deletes the staged files but keeps the directory alive for the
	// next volume's parts.
	if _, err := os.Stat(s.Dir()); err != nil {
		t.Errorf("staging dir gone after Reset: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "a.bar")); !os.IsNotExist(err) {
		t.Errorf("staged file survived Reset: %v", err)
	}
}

func TestStagerRegisterStagedCountsExternalWrites(t *testing.T) {
	s, err := NewStager(filepath.Join(t.TempDir(), "stage"))
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	defer s.Close()

	path := filepath.Join(s.Dir(), "direct.bar")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s.RegisterStaged(path, 10)

	if got := s.AccumulatedSize(); got != 10 {
		t.Errorf("AccumulatedSize = %d, want 10", got)
	}
	files := s.StagedFiles()
	if len(files) != 1 || files[0] != path {
		t.Errorf("StagedFiles = %v", files)
	}
}

func TestStagerVolumeRotation(t *testing.T) {
	s, err := NewStager(filepath.Join(t.TempDir(), "stage"))
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	defer s.Close()

	if got := s.VolumeNumber(); got != 1 {
		t.Fatalf("initial VolumeNumber = %d, want 1", got)
	}
	if s.ConsumeNewVolumeRequest() {
		t.Fatal("new-volume flag set before any rotation")
	}

	s.RequestNewVolume()
	if got := s.VolumeNumber(); got != 2 {
		t.Errorf("VolumeNumber = %d, want 2", got)
	}
	if !s.ConsumeNewVolumeRequest() {
		t.Error("new-volume flag not set after rotation")
	}
	if s.ConsumeNewVolumeRequest() {
		t.Error("new-volume flag not cleared by consume")
	}
}

func TestStagerCloseRemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stage")
	s, err := NewStager(dir)
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	if _, err := s.StageFile("a.bar", strings.NewReader("x")); err != nil {
		t.Fatalf("StageFile: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("staging dir survived Close: %v", err)
	}
}
