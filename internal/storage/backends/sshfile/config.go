// Package sshfile implements the SCP and SFTP storage backends over a
// single golang.org/x/crypto/ssh connection: SFTP operations go
// straight through github.com/pkg/sftp's native protocol (including native
// Seek support, as in the SMB backend); SCP
// has no directory/rename/delete primitives of its own, so this backend
// runs those as plain remote shell commands over an exec session, which
// is exactly what the scp command line tool itself does. Both schemes
// share one SSH connection, dialed lazily and reused for every operation.
package sshfile

import (
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/blockvault/barc/internal/netauth"
	"github.com/blockvault/barc/internal/ratelimit"
	"github.com/blockvault/barc/internal/storage"
)

// Config configures one sshfile.Backend instance. Scheme selects which
// protocol (SFTP's native one, or SCP's exec-session one) the backend's
// operations use; Host/Port/Auth/Timeouts/Limiter are shared by both.
type Config struct {
	Scheme storage.Kind // storage.KindSCP or storage.KindSFTP

	Host string
	Port int

	Auth *netauth.Resolver

	Timeouts storage.Timeouts

	Limiter *ratelimit.Limiter

	// HostKeyCallback, if nil, accepts any host key
	// (ssh.InsecureIgnoreHostKey). Supply a pinned callback for
	// deployments that cannot trust first use.
	HostKeyCallback ssh.HostKeyCallback
}

func (c *Config) dialTimeout() time.Duration {
	if c.Timeouts.Connect <= 0 {
		return 30 * time.Second // storage.c's SSH_TIMEOUT
	}
	return time.Duration(c.Timeouts.Connect) * time.Second
}
