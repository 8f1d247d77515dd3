package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/blockvault/barc/internal/barerr"
)

// RequestKind mirrors archive.VolumeRequestKind without importing the
// archive package (volume is a lower-level package the archive engine's
// collaborators sit above); no code in this module converts between the
// two.
type RequestKind int

const (
	RequestCallback RequestKind = iota
	RequestCommand
	RequestConsole
)

// Callback is the caller-supplied volume-request hook, the first channel
// tried: returns Ok/Unload/Abort/Fail for one prompt round.
type Callback func(ctx context.Context, volumeNumber int, message string) (Decision, error)

// Decision is the outcome of one volume-request round.
type Decision int

const (
	DecisionOk Decision = iota
	DecisionUnload
	DecisionAbort
	DecisionFail
)

// ConsolePrompt is channel (c): a plain stdin/stdout prompt used when
// neither a callback nor a command template is configured.
type ConsolePrompt func(ctx context.Context, volumeNumber int, message string) (Decision, error)

// Requester drives the volume-request protocol: three channels in
// priority order (callback, external command template, console prompt),
// with an unload/sleep/re-prompt loop bounded so it cannot spin forever.
type Requester struct {
	Callback     Callback
	CommandTmpl  string
	CommandVars  TemplateVars
	Console      ConsolePrompt
	Unload       func(ctx context.Context) error
	UnmountSleep time.Duration
	MaxPrompts   int // bounded re-prompt loop; 0 means use DefaultMaxPrompts
	Abort        func() bool
}

// DefaultMaxPrompts bounds the unload/sleep/re-prompt loop so a detached
// session can't spin forever waiting on media that will never arrive.
const DefaultMaxPrompts = 10

// DefaultUnmountSleep is the bounded interval the driver waits between
// prompts while the tray is unloaded.
const DefaultUnmountSleep = 2 * time.Second

// RequestVolume runs the three-channel protocol for volumeNumber, looping
// (unload, sleep, re-prompt) until Ok is signaled and the caller's
// currentVolume callback confirms the expected ordinal is loaded (or
// reports it as unknown), or the loop is exhausted (barerr.LoadVolumeFail)
// / aborted or answered Abort (barerr.Aborted) / answered Fail
// (barerr.LoadVolumeFail).
func (r *Requester) RequestVolume(ctx context.Context, volumeNumber int, message string, currentVolume func() (int, bool)) error {
	maxPrompts := r.MaxPrompts
	if maxPrompts <= 0 {
		maxPrompts = DefaultMaxPrompts
	}
	sleep := r.UnmountSleep
	if sleep <= 0 {
		sleep = DefaultUnmountSleep
	}

	for attempt := 0; attempt < maxPrompts; attempt++ {
		if r.Abort != nil && r.Abort() {
			return &barerr.Aborted{}
		}

		decision, err := r.prompt(ctx, volumeNumber, message)
		if err != nil {
			return err
		}

		switch decision {
		case DecisionAbort:
			return &barerr.Aborted{}
		case DecisionFail:
			return &barerr.LoadVolumeFail{Expected: volumeNumber}
		case DecisionUnload:
			if r.Unload != nil {
				if err := r.Unload(ctx); err != nil {
					return err
				}
			}
			if err := sleepCtx(ctx, sleep); err != nil {
				return err
			}
			continue
		case DecisionOk:
			if loaded, known := currentVolume(); !known || loaded == volumeNumber {
				return nil
			}
			// Wrong volume loaded: keep looping (re-prompt) rather than
			// silently accepting a mismatched disc.
			if err := sleepCtx(ctx, sleep); err != nil {
				return err
			}
		}
	}
	return &barerr.LoadVolumeFail{Expected: volumeNumber}
}

// prompt tries the three channels in priority order, using the first one
// configured: (a) Callback, (b) CommandTmpl, (c) Console.
func (r *Requester) prompt(ctx context.Context, volumeNumber int, message string) (Decision, error) {
	if r.Callback != nil {
		return r.Callback(ctx, volumeNumber, message)
	}
	if r.CommandTmpl != "" {
		vars := r.CommandVars
		vars.Number = fmt.Sprintf("%d", volumeNumber)
		if err := runTemplate(ctx, r.CommandTmpl, vars); err != nil {
			return DecisionFail, err
		}
		return DecisionOk, nil
	}
	if r.Console != nil {
		return r.Console(ctx, volumeNumber, message)
	}
	// No channel configured at all: nothing to do but fail rather than
	// hang forever waiting on a prompt nobody will answer.
	return DecisionFail, nil
}

// sleepCtx sleeps d, preemptible by ctx cancellation. A session abort
// must wake the unmount sleep, not wait it out.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return &barerr.Aborted{}
	case <-t.C:
		return nil
	}
}
