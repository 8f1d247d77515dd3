// Package runtime holds the process-wide state that would otherwise live
// in package-level globals: the per-host default-credential cache shared
// by every network backend, the single HTTP transport WebDAV sessions are
// built over, and the handler that absorbs the spurious timer signal some
// transfer libraries raise internally. A CoreRuntime is constructed once
// at program start and passed explicitly to whatever needs it; nothing in
// this module reaches for a global instead.
package runtime

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockvault/barc/internal/netauth"
)

// CoreRuntime is the one-per-process bundle of shared state. Create it
// with New and release it with Close when the program exits.
type CoreRuntime struct {
	// Credentials caches the default login per host, updated after a
	// successful interactive login so later sessions against the same
	// host stop prompting.
	Credentials *netauth.CachedDefaults

	// Transport is the shared HTTP transport for WebDAV/WebDAVs
	// sessions. Sharing one transport keeps connection pooling and
	// idle-connection limits process-wide instead of per-backend.
	Transport *http.Transport

	sigCh   chan os.Signal
	sigDone chan struct{}
}

// New constructs the runtime and installs the timer-signal absorber.
// SIGALRM is raised by some network libraries for their own internal
// timeouts; left unhandled it terminates the whole process, so it is
// caught and discarded here for the life of the runtime.
func New() *CoreRuntime {
	rt := &CoreRuntime{
		Credentials: netauth.NewCachedDefaults(),
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
		sigCh:   make(chan os.Signal, 4),
		sigDone: make(chan struct{}),
	}

	signal.Notify(rt.sigCh, syscall.SIGALRM)
	go func() {
		defer close(rt.sigDone)
		for range rt.sigCh {
			// Discard. The signal only exists to wake a library's
			// internal wait; it carries no meaning for us.
		}
	}()
	return rt
}

// Close uninstalls the signal handler and drops pooled connections. Safe
// to call exactly once, normally deferred right after New.
func (rt *CoreRuntime) Close() {
	signal.Stop(rt.sigCh)
	close(rt.sigCh)
	<-rt.sigDone
	rt.Transport.CloseIdleConnections()
}
