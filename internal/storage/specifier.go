// Package storage implements the uniform storage abstraction: a URI
// grammar that names a backend and its target, and a dispatcher
// that routes operations to whichever backend implements that scheme.
// Narrow per-backend interfaces live under storage/backends; this package
// owns only the specifier, the handle/backend contracts, and the router.
package storage

import (
	"strconv"
	"strings"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/secret"
)

// Kind enumerates the storage backends the dispatcher knows how to route
// to.
type Kind string

const (
	KindFilesystem Kind = "file"
	KindFTP        Kind = "ftp"
	KindSCP        Kind = "scp"
	KindSFTP       Kind = "sftp"
	KindWebDAV     Kind = "webdav"
	KindWebDAVS    Kind = "webdavs"
	KindSMB        Kind = "smb"
	KindCD         Kind = "cd"
	KindDVD        Kind = "dvd"
	KindBD         Kind = "bd"
	KindDevice     Kind = "device"
)

// defaultPorts gives the scheme default used when a netbody omits one.
var defaultPorts = map[Kind]int{
	KindFTP:     21,
	KindSCP:     22,
	KindSFTP:    22,
	KindWebDAV:  80,
	KindWebDAVS: 443,
	KindSMB:     445,
}

// volumedKinds is the set of backends that use the staged/volumed write
// path (internal/volume) rather than streaming directly.
var volumedKinds = map[Kind]bool{
	KindCD:     true,
	KindDVD:    true,
	KindBD:     true,
	KindDevice: true,
}

// IsVolumed reports whether k uses the staged post-process write pipeline
// (optical media, raw block devices) instead of streaming writes directly.
func (k Kind) IsVolumed() bool { return volumedKinds[k] }

// IsNetwork reports whether k is one of the network backend family.
func (k Kind) IsNetwork() bool {
	switch k {
	case KindFTP, KindSCP, KindSFTP, KindWebDAV, KindWebDAVS, KindSMB:
		return true
	default:
		return false
	}
}

// GlobMatcher is the narrow interface this package consumes from the
// external pattern-matcher collaborator to test a Specifier's
// compiled Pattern against candidate names.
type GlobMatcher interface {
	Match(name string) bool
}

// Specifier is a parsed storage URI: kind,
// network/credential fields, and either a plain archive path or a compiled
// glob pattern (used for selective restore).
type Specifier struct {
	Kind Kind

	// Network fields (FTP/SCP/SFTP/WebDAV(S)/SMB).
	Host string
	Port int
	User string
	// Secret holds the password verbatim as it appeared in the URI:
	// percent escapes are passed through, not decoded. Only the literal
	// \@ escape in the user field is resolved during parsing.
	Secret *secret.Password
	Share  string // SMB share name

	// Device/optical fields.
	Device string // device node, e.g. /dev/sr0

	// Archive target: exactly one of Path or Pattern is meaningful,
	// selected by which constructor/parse path produced this Specifier.
	Path    string
	Pattern GlobMatcher

	// TimeoutOverride holds optional connect/response/read/write
	// timeouts for this specifier. ParseURI never sets it, and no backend
	// in this module reads it; each backend takes its timeouts from its
	// own Config.
	TimeoutOverride *Timeouts
}

// Timeouts holds the four per-session network timeouts, in seconds:
// connect, protocol response, read, and write.
type Timeouts struct {
	Connect  int // seconds
	Response int
	Read     int
	Write    int
}

// DefaultTimeouts returns the stock timeouts: 30s to connect, 30s for a
// protocol response, 60s for reads and writes.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: 30, Response: 30, Read: 60, Write: 60}
}

// escapedAt is the `\@` literal-at escape used inside the user field.
const escapedAt = `\@`

// ParseURI parses a storage URI:
//
//	uri    = scheme "://" body
//	netbody = [ user [ ":" secret ] "@" ] host [ ":" port ] [ "/" path ]
//	devbody = [ devicename ":" ] path
//
// For the filesystem scheme, body is a bare path with no netbody/devbody
// parsing. Percent-escapes inside user/secret are never decoded here;
// this layer only un-escapes the literal `\@`.
func ParseURI(uri string) (*Specifier, error) {
	schemeSep := strings.Index(uri, "://")
	if schemeSep < 0 {
		return nil, &barerr.InvalidUri{Detail: "missing scheme separator \"://\""}
	}
	scheme := uri[:schemeSep]
	body := uri[schemeSep+3:]
	kind := Kind(scheme)

	switch kind {
	case KindFilesystem:
		return &Specifier{Kind: kind, Path: body}, nil
	case KindCD, KindDVD, KindBD, KindDevice:
		return parseDevBody(kind, body)
	case KindFTP, KindSCP, KindSFTP, KindWebDAV, KindWebDAVS, KindSMB:
		return parseNetBody(kind, body)
	default:
		return nil, &barerr.InvalidUri{Scheme: scheme, Detail: "unrecognized scheme"}
	}
}

func parseDevBody(kind Kind, body string) (*Specifier, error) {
	spec := &Specifier{Kind: kind}
	if idx := strings.Index(body, ":"); idx >= 0 && !strings.Contains(body[:idx], "/") {
		spec.Device = body[:idx]
		spec.Path = body[idx+1:]
	} else {
		spec.Path = body
	}
	return spec, nil
}

func parseNetBody(kind Kind, body string) (*Specifier, error) {
	spec := &Specifier{Kind: kind}

	userHostSep := findUnescapedAt(body)
	hostPart := body
	if userHostSep >= 0 {
		userSecret := body[:userHostSep]
		hostPart = body[userHostSep+1:]

		if colon := strings.Index(userSecret, ":"); colon >= 0 {
			spec.User = strings.ReplaceAll(userSecret[:colon], escapedAt, "@")
			pw, err := secret.NewFromString(userSecret[colon+1:])
			if err != nil {
				return nil, err
			}
			spec.Secret = pw
		} else {
			spec.User = strings.ReplaceAll(userSecret, escapedAt, "@")
		}
	}

	path := ""
	if slash := strings.Index(hostPart, "/"); slash >= 0 {
		path = hostPart[slash+1:]
		hostPart = hostPart[:slash]
	}

	host := hostPart
	port := defaultPorts[kind]
	if colon := strings.LastIndex(hostPart, ":"); colon >= 0 {
		host = hostPart[:colon]
		p, err := strconv.Atoi(hostPart[colon+1:])
		if err != nil {
			return nil, &barerr.InvalidUri{Scheme: string(kind), Detail: "invalid port"}
		}
		port = p
	}
	if host == "" {
		return nil, &barerr.InvalidUri{Scheme: string(kind), Detail: "missing host"}
	}

	spec.Host = host
	spec.Port = port
	spec.Path = path
	return spec, nil
}

// findUnescapedAt returns the index of the first "@" in s that is not
// immediately preceded by the \@ escape sequence's backslash, or -1 if
// there is no user@host separator (an unauthenticated netbody).
func findUnescapedAt(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != '@' {
			continue
		}
		if i > 0 && s[i-1] == '\\' {
			continue
		}
		return i
	}
	return -1
}

// FormatURI is the inverse of ParseURI: parsing its output yields an
// equal Specifier.
func FormatURI(spec *Specifier) string {
	var b strings.Builder
	b.WriteString(string(spec.Kind))
	b.WriteString("://")

	switch spec.Kind {
	case KindFilesystem:
		b.WriteString(spec.Path)
		return b.String()
	case KindCD, KindDVD, KindBD, KindDevice:
		if spec.Device != "" {
			b.WriteString(spec.Device)
			b.WriteString(":")
		}
		b.WriteString(spec.Path)
		return b.String()
	}

	if spec.User != "" || spec.Secret != nil {
		b.WriteString(strings.ReplaceAll(spec.User, "@", escapedAt))
		if spec.Secret != nil {
			b.WriteString(":")
			d := spec.Secret.Deploy()
			b.WriteString(d.String())
			d.Release()
		}
		b.WriteString("@")
	}
	b.WriteString(spec.Host)
	if spec.Port != 0 && spec.Port != defaultPorts[spec.Kind] {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(spec.Port))
	}
	if spec.Path != "" {
		b.WriteString("/")
		b.WriteString(spec.Path)
	}
	return b.String()
}

// BaseName returns the archive's base file name (the last path segment),
// or barerr.NoArchiveFileName if Path has no resolvable name.
func (s *Specifier) BaseName() (string, error) {
	if s.Path == "" {
		return "", &barerr.NoArchiveFileName{}
	}
	p := strings.TrimRight(s.Path, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		p = p[idx+1:]
	}
	if p == "" {
		return "", &barerr.NoArchiveFileName{}
	}
	return p, nil
}
