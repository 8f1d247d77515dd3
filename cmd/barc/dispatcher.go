package main

import (
	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/netauth"
	"github.com/blockvault/barc/internal/ratelimit"
	"github.com/blockvault/barc/internal/runtime"
	"github.com/blockvault/barc/internal/secret"
	"github.com/blockvault/barc/internal/storage"
	"github.com/blockvault/barc/internal/storage/backends/ftpback"
	"github.com/blockvault/barc/internal/storage/backends/localfs"
	"github.com/blockvault/barc/internal/storage/backends/smbback"
	"github.com/blockvault/barc/internal/storage/backends/sshfile"
	"github.com/blockvault/barc/internal/storage/backends/webdavback"
)

// buildDispatcher registers the filesystem backend unconditionally and,
// for a network-scheme target, the one backend matching its Kind. The
// optical/device backends are intentionally not reachable from this thin
// CLI: their staging/pipeline configuration (image builder, ECC, burn
// command templates) is a job-configuration concern that belongs to the
// external front end, not something a bare create/extract command line
// can meaningfully default.
func buildDispatcher(rt *runtime.CoreRuntime, spec *storage.Specifier) *storage.Dispatcher {
	disp := storage.NewDispatcher()
	disp.Register(localfs.New())

	if !spec.Kind.IsNetwork() {
		return disp
	}

	var limiter *ratelimit.Limiter
	if flagBandwidth > 0 {
		limiter = ratelimit.New(flagBandwidth)
	}
	auth := buildAuth(rt)
	timeouts := storage.DefaultTimeouts()

	switch spec.Kind {
	case storage.KindFTP:
		disp.Register(ftpback.New(ftpback.Config{
			Host: spec.Host, Port: spec.Port,
			Auth: auth, Timeouts: timeouts, Limiter: limiter,
		}))
	case storage.KindSCP, storage.KindSFTP:
		disp.Register(sshfile.New(sshfile.Config{
			Scheme: spec.Kind, Host: spec.Host, Port: spec.Port,
			Auth: auth, Timeouts: timeouts, Limiter: limiter,
		}))
	case storage.KindWebDAV, storage.KindWebDAVS:
		disp.Register(webdavback.New(webdavback.Config{
			Scheme: spec.Kind, Host: spec.Host, Port: spec.Port,
			Transport: rt.Transport,
			Auth:      auth, Timeouts: timeouts, Limiter: limiter,
		}))
	case storage.KindSMB:
		disp.Register(smbback.New(smbback.Config{
			Host: spec.Host, Port: spec.Port,
			Share: flagSMBShare, Domain: flagSMBDomain,
			Auth: auth, Timeouts: timeouts, Limiter: limiter,
		}))
	}
	return disp
}

// buildAuth wires a netauth.Resolver from what this CLI can express: a
// job-override credential source built from the --user/--password flags
// (the highest-priority source), the runtime's shared per-host default
// cache, and the hidden-input console prompt. Per-host config servers and
// batch callbacks belong to the job-configuration/server front end, which
// is out of scope here.
func buildAuth(rt *runtime.CoreRuntime) *netauth.Resolver {
	resolver := &netauth.Resolver{
		Cache:  rt.Credentials,
		Prompt: promptSecretInto,
	}
	if flagUser == "" {
		return resolver
	}
	var pw *secret.Password
	if flagPassword != "" {
		pw, _ = secret.NewFromString(flagPassword)
	} else {
		pw, _ = promptPassword("password for " + flagUser)
	}
	resolver.JobOverride = &archive.HostCredentials{User: flagUser, Secret: pw}
	return resolver
}
