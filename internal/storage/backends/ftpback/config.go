// Package ftpback implements the FTP storage backend:
// create/open/list/rename/delete against an FTP server, authenticated
// through the shared internal/netauth credential chain, rate-limited
// through internal/ratelimit, and timed out per internal/storage.Timeouts.
package ftpback

import (
	"time"

	"github.com/blockvault/barc/internal/netauth"
	"github.com/blockvault/barc/internal/ratelimit"
	"github.com/blockvault/barc/internal/storage"
)

// defaultReadAheadBytes is the read-ahead buffer size for streamed reads
// when Config.ReadAheadBytes is left at 0, one transfer block.
const defaultReadAheadBytes = 64 * 1024

// Config configures one ftpback.Backend instance: one FTP server, reached
// through exactly one set of credentials.
type Config struct {
	Host string
	Port int // 0 means the scheme default (21), applied by the caller via storage.Specifier

	Auth *netauth.Resolver

	Timeouts storage.Timeouts // zero value: caller should pass storage.DefaultTimeouts()

	// ReadAheadBytes sizes the buffer allocated for each read handle. 0
	// uses defaultReadAheadBytes. Reads go straight to the RETR data
	// stream; the buffer is not used to batch them.
	ReadAheadBytes int

	// Limiter, if set, throttles every Read/Write through this backend to
	// a configured bytes/second cap.
	Limiter *ratelimit.Limiter

	// PassiveOnly forces PASV-style data connections; the only mode
	// jlaffaye/ftp supports, kept as a field so a future active-mode
	// fallback has somewhere to live without changing the Config shape.
	PassiveOnly bool
}

func (c *Config) readAheadBytes() int {
	if c.ReadAheadBytes <= 0 {
		return defaultReadAheadBytes
	}
	return c.ReadAheadBytes
}

func (c *Config) dialTimeout() time.Duration {
	if c.Timeouts.Connect <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeouts.Connect) * time.Second
}
