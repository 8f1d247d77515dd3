// Package smbback implements the SMB storage backend over
// github.com/hirochachacha/go-smb2, a pure-Go SMB2/3 client.
package smbback

import (
	"strconv"
	"time"

	"github.com/blockvault/barc/internal/netauth"
	"github.com/blockvault/barc/internal/ratelimit"
	"github.com/blockvault/barc/internal/storage"
)

// Config configures one SMB share.
type Config struct {
	Host string
	Port int

	// Share is the SMB share name this Config's Backend mounts once on
	// first use. One Backend instance serves one share, the same way one
	// ftpback.Backend serves one FTP host: Specifier.Path is always
	// relative to this share, never carrying the share name itself.
	Share string

	Domain string // NTLM domain/workgroup, optional

	Auth *netauth.Resolver

	Timeouts storage.Timeouts
	Limiter  *ratelimit.Limiter
}

func (c *Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 445
	}
	return c.Host + ":" + strconv.Itoa(port)
}

func (c *Config) dialTimeout() time.Duration {
	if c.Timeouts.Connect <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeouts.Connect) * time.Second
}
