package optical

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/storage"
	"github.com/blockvault/barc/internal/volume"
)

// fakeBuilder writes a tiny placeholder image instead of invoking mkisofs,
// standing in for the external-tool/in-process ISO writers in tests.
type fakeBuilder struct {
	built int
	fail  bool
}

func (f *fakeBuilder) Build(ctx context.Context, stagingDir, imagePath string) error {
	f.built++
	if f.fail {
		return &barerr.CreateIso{Detail: "forced failure"}
	}
	return os.WriteFile(imagePath, []byte("iso-image"), 0o644)
}

func newTestBackend(t *testing.T, mountDir string, mutate func(cfg *Config)) *Backend {
	t.Helper()
	stagingDir := t.TempDir()
	cfg := Config{
		Device:   "/dev/sr0",
		Medium:   MediumCD,
		WriteISO: true,
		Builder:  &fakeBuilder{},
		MountDir: mountDir,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(cfg, stagingDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func stageOneFile(t *testing.T, b *Backend, name string, content []byte) {
	t.Helper()
	ctx := context.Background()
	spec := &storage.Specifier{Path: name}
	h, err := b.Create(ctx, spec, storage.PolicyOverwrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBackendBurnWritesAndVerifies(t *testing.T) {
	mountDir := t.TempDir()
	b := newTestBackend(t, mountDir, nil)

	stageOneFile(t, b, "part1.bar", []byte("hello world"))

	var lastPct int
	var sawIncrease bool
	b.SetProgress(func(step string, completed, total, pct int) {
		if completed > lastPct {
			sawIncrease = true
		}
		if completed < lastPct {
			t.Fatalf("progress went backwards at step %s: %d -> %d", step, lastPct, completed)
		}
		lastPct = completed
	})

	if err := b.Burn(context.Background()); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if !sawIncrease {
		t.Fatal("expected progress to increase at least once")
	}
	if lastPct != 100 {
		t.Fatalf("expected progress to reach 100, got %d", lastPct)
	}

	got, err := os.ReadFile(filepath.Join(mountDir, "part1.bar"))
	if err != nil {
		t.Fatalf("reading burned medium: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("medium content = %q, want %q", got, "hello world")
	}

	if b.stager.AccumulatedSize() != 0 {
		t.Fatalf("expected accumulated size reset after burn, got %d", b.stager.AccumulatedSize())
	}
	if b.stager.VolumeNumber() != 2 {
		t.Fatalf("expected volume number incremented to 2, got %d", b.stager.VolumeNumber())
	}
}

func TestBackendBurnVerifyFailsOnMutation(t *testing.T) {
	mountDir := t.TempDir()
	b := newTestBackend(t, mountDir, func(cfg *Config) {
		cfg.Verifier = &mutatingVerifier{}
	})

	stageOneFile(t, b, "part1.bar", []byte("hello world"))

	err := b.Burn(context.Background())
	if err == nil {
		t.Fatal("expected verify failure to surface as an error")
	}
	var verr *barerr.VerifyFailed
	if !errors.As(err, &verr) {
		t.Fatalf("expected a VerifyFailed to be reachable via errors.As, got %v", err)
	}
}

// mutatingVerifier simulates a single corrupted byte on the medium by always
// reporting a mismatch at offset 0, exercising spec's "single-byte mutation"
// verify-failure property without needing real media I/O.
type mutatingVerifier struct{}

func (mutatingVerifier) Verify(ctx context.Context, stagingDir string, stagedFiles []string, mediumDir string) error {
	if len(stagedFiles) == 0 {
		return nil
	}
	return &barerr.VerifyFailed{Path: stagedFiles[0], Offset: 0}
}

func TestBackendPostProcessOnlyBurnsAtCapacity(t *testing.T) {
	mountDir := t.TempDir()
	builder := &fakeBuilder{}
	b := newTestBackend(t, mountDir, func(cfg *Config) {
		cfg.Builder = builder
	})

	stageOneFile(t, b, "small.bar", []byte("tiny"))
	if err := b.PostProcess(context.Background(), &storage.Specifier{Path: "small.bar"}); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	if builder.built != 0 {
		t.Fatalf("expected no burn below capacity, builder invoked %d times", builder.built)
	}

	if err := b.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if builder.built != 1 {
		t.Fatalf("expected Finalize to force one burn, got %d", builder.built)
	}
}

func TestBackendBurnRetriesOnFailureThenSucceeds(t *testing.T) {
	mountDir := t.TempDir()
	attempts := 0
	b := newTestBackend(t, mountDir, func(cfg *Config) {
		cfg.MaxBurnAttempts = 3
		cfg.Verifier = &flakyVerifier{failUntil: 2, counter: &attempts}
	})
	retryCount := 0
	b.SetVolumeCallback(func(ctx context.Context, volumeNumber int, message string) (volume.Decision, error) {
		retryCount++
		return volume.DecisionOk, nil
	})

	stageOneFile(t, b, "part1.bar", []byte("retry me"))

	if err := b.Burn(context.Background()); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected verify to be attempted twice, got %d", attempts)
	}
	if retryCount != 1 {
		t.Fatalf("expected exactly one retry prompt, got %d", retryCount)
	}
}

type flakyVerifier struct {
	failUntil int
	counter   *int
}

func (v *flakyVerifier) Verify(ctx context.Context, stagingDir string, stagedFiles []string, mediumDir string) error {
	*v.counter++
	if *v.counter < v.failUntil {
		return &barerr.VerifyFailed{Path: "part1.bar", Offset: 0}
	}
	return (&BlockVerifier{}).Verify(ctx, stagingDir, stagedFiles, mediumDir)
}
