// Package netauth implements the credential-ordering chain shared by every
// network backend: per-job override, per-host configuration,
// a cached default, an interactive prompt, and a batch callback, tried in
// that order up to MAX_PASSWORD_REQUESTS attempts. A successful interactive
// login updates the cached default, so a later part/volume of the same
// session (or a later archive against the same host) doesn't re-prompt.
package netauth

import (
	"context"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/secret"
)

// MaxPasswordRequests bounds the total number of login attempts across
// all credential sources.
const MaxPasswordRequests = 3

// CachedDefaults is the process-wide per-host credential cache, normally
// owned by runtime.CoreRuntime and shared across every backend instance in
// one process.
type CachedDefaults struct {
	byHost map[string]archive.HostCredentials
}

// NewCachedDefaults returns an empty cache.
func NewCachedDefaults() *CachedDefaults {
	return &CachedDefaults{byHost: make(map[string]archive.HostCredentials)}
}

func (c *CachedDefaults) get(host string) (archive.HostCredentials, bool) {
	creds, ok := c.byHost[host]
	return creds, ok
}

// Set records host's credentials as the cached default, called after a
// successful interactive login.
func (c *CachedDefaults) Set(host string, creds archive.HostCredentials) {
	c.byHost[host] = creds
}

// BatchCallback is the lowest-priority credential source: a "give me
// credentials" hook used by unattended/server jobs with no terminal to
// prompt on.
type BatchCallback func(ctx context.Context, host, scheme string) (archive.HostCredentials, error)

// Resolver drives the five-source credential chain for one backend
// instance. Any field left nil is simply skipped.
type Resolver struct {
	JobOverride *archive.HostCredentials // (a): set once per archive job, highest priority
	HostConfig  archive.ConfigServer     // (b)
	Cache       *CachedDefaults          // (c)
	Prompt      archive.PasswordPrompt   // (d)
	Batch       BatchCallback            // (e)
}

// candidate pairs a produced credential set with whether a successful use
// of it should be written back to the cache (only true for the interactive
// prompt source). A prompt candidate's creds are filled in by Authenticate
// only when the chain reaches it.
type candidate struct {
	creds      archive.HostCredentials
	fromPrompt bool
}

func (r *Resolver) candidates(ctx context.Context, host, scheme string) []candidate {
	var out []candidate
	if r.JobOverride != nil {
		out = append(out, candidate{creds: *r.JobOverride})
	}
	if r.HostConfig != nil {
		if creds, err := r.HostConfig.CredentialsFor(ctx, host, scheme); err == nil && creds != nil {
			out = append(out, candidate{creds: *creds})
		}
	}
	if r.Cache != nil {
		if creds, ok := r.Cache.get(host); ok {
			out = append(out, candidate{creds: creds})
		}
	}
	if r.Prompt != nil {
		out = append(out, candidate{fromPrompt: true})
	}
	if r.Batch != nil {
		if creds, err := r.Batch(ctx, host, scheme); err == nil {
			out = append(out, candidate{creds: creds})
		}
	}
	return out
}

// Authenticate tries each available credential source in priority order,
// calling attempt with the produced credentials, stopping at the first
// attempt that returns nil. Gives up after MaxPasswordRequests candidates
// (not per-source retries — the cap is on total login attempts) and
// returns barerr.Network{Kind: NetworkAuth} naming host. A successful
// candidate produced by the interactive prompt updates the cache.
func (r *Resolver) Authenticate(ctx context.Context, host, scheme string, attempt func(archive.HostCredentials) error) error {
	tried := 0
	var lastErr error
	for _, c := range r.candidates(ctx, host, scheme) {
		if tried >= MaxPasswordRequests {
			break
		}
		if c.fromPrompt {
			pw := secret.New()
			if err := r.Prompt(ctx, "password for "+host, pw); err != nil {
				continue
			}
			c.creds = archive.HostCredentials{User: host, Secret: pw}
		}
		tried++
		err := attempt(c.creds)
		if err == nil {
			if c.fromPrompt && r.Cache != nil {
				r.Cache.Set(host, c.creds)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return &barerr.Aborted{}
		}
	}
	return &barerr.Network{Kind: barerr.NetworkAuth, Host: host, Err: lastErr}
}
