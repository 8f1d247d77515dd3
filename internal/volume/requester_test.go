package volume

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockvault/barc/internal/barerr"
)

func loadedVolume(n int) func() (int, bool) {
	return func() (int, bool) { return n, true }
}

func TestRequesterCallbackOkWithExpectedVolume(t *testing.T) {
	r := &Requester{
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			return DecisionOk, nil
		},
	}
	if err := r.RequestVolume(context.Background(), 2, "insert volume 2", loadedVolume(2)); err != nil {
		t.Fatalf("RequestVolume: %v", err)
	}
}

func TestRequesterCallbackTakesPriorityOverConsole(t *testing.T) {
	consoleUsed := false
	r := &Requester{
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			return DecisionOk, nil
		},
		Console: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			consoleUsed = true
			return DecisionFail, nil
		},
	}
	if err := r.RequestVolume(context.Background(), 1, "", loadedVolume(1)); err != nil {
		t.Fatalf("RequestVolume: %v", err)
	}
	if consoleUsed {
		t.Error("console prompt ran despite a configured callback")
	}
}

func TestRequesterFailDecision(t *testing.T) {
	r := &Requester{
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			return DecisionFail, nil
		},
	}
	err := r.RequestVolume(context.Background(), 3, "", loadedVolume(3))
	var lvf *barerr.LoadVolumeFail
	if !errors.As(err, &lvf) {
		t.Fatalf("err = %v, want LoadVolumeFail", err)
	}
	if lvf.Expected != 3 {
		t.Errorf("Expected = %d, want 3", lvf.Expected)
	}
}

func TestRequesterAbortDecision(t *testing.T) {
	r := &Requester{
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			return DecisionAbort, nil
		},
	}
	err := r.RequestVolume(context.Background(), 1, "", loadedVolume(1))
	var ab *barerr.Aborted
	if !errors.As(err, &ab) {
		t.Fatalf("err = %v, want Aborted", err)
	}
}

func TestRequesterUnloadThenOk(t *testing.T) {
	unloads := 0
	round := 0
	r := &Requester{
		UnmountSleep: time.Millisecond,
		Unload: func(ctx context.Context) error {
			unloads++
			return nil
		},
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			round++
			if round == 1 {
				return DecisionUnload, nil
			}
			return DecisionOk, nil
		},
	}
	if err := r.RequestVolume(context.Background(), 2, "", loadedVolume(2)); err != nil {
		t.Fatalf("RequestVolume: %v", err)
	}
	if unloads != 1 {
		t.Errorf("unloads = %d, want 1", unloads)
	}
	if round != 2 {
		t.Errorf("prompt rounds = %d, want 2", round)
	}
}

func TestRequesterRepromptsOnWrongVolume(t *testing.T) {
	loaded := 1
	rounds := 0
	r := &Requester{
		UnmountSleep: time.Millisecond,
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			rounds++
			if rounds == 2 {
				loaded = 2 // operator swapped discs before answering again
			}
			return DecisionOk, nil
		},
	}
	err := r.RequestVolume(context.Background(), 2, "", func() (int, bool) { return loaded, true })
	if err != nil {
		t.Fatalf("RequestVolume: %v", err)
	}
	if rounds != 2 {
		t.Errorf("prompt rounds = %d, want 2", rounds)
	}
}

func TestRequesterBoundedLoopExhaustion(t *testing.T) {
	r := &Requester{
		MaxPrompts:   3,
		UnmountSleep: time.Millisecond,
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			return DecisionOk, nil // but the wrong disc never leaves the tray
		},
	}
	err := r.RequestVolume(context.Background(), 5, "", loadedVolume(1))
	var lvf *barerr.LoadVolumeFail
	if !errors.As(err, &lvf) {
		t.Fatalf("err = %v, want LoadVolumeFail after exhausting prompts", err)
	}
}

func TestRequesterAbortPredicatePreempts(t *testing.T) {
	r := &Requester{
		Abort: func() bool { return true },
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			t.Fatal("prompt ran despite abort")
			return DecisionOk, nil
		},
	}
	err := r.RequestVolume(context.Background(), 1, "", loadedVolume(1))
	var ab *barerr.Aborted
	if !errors.As(err, &ab) {
		t.Fatalf("err = %v, want Aborted", err)
	}
}

func TestRequesterNoChannelConfiguredFails(t *testing.T) {
	r := &Requester{}
	err := r.RequestVolume(context.Background(), 1, "", loadedVolume(1))
	var lvf *barerr.LoadVolumeFail
	if !errors.As(err, &lvf) {
		t.Fatalf("err = %v, want LoadVolumeFail", err)
	}
}

func TestRequesterCancellationDuringUnmountSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Requester{
		UnmountSleep: time.Hour,
		Callback: func(ctx context.Context, volumeNumber int, message string) (Decision, error) {
			cancel()
			return DecisionUnload, nil
		},
	}
	done := make(chan error, 1)
	go func() {
		done <- r.RequestVolume(ctx, 1, "", loadedVolume(1))
	}()
	select {
	case err := <-done:
		var ab *barerr.Aborted
		if !errors.As(err, &ab) {
			t.Fatalf("err = %v, want Aborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not preempt the unmount sleep")
	}
}
