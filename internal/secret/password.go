// Package secret implements the fixed-capacity Password container used
// everywhere a passphrase crosses a component boundary (crypto key
// derivation, FTP/SSH/SMB/WebDAV credentials, optical burn authentication).
// A Password never grows past its initial capacity and is zeroed on
// Clear/Destroy so a passphrase doesn't linger in a reallocated Go string
// or survive a GC cycle as leftover heap garbage.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"unicode"

	"github.com/blockvault/barc/internal/barerr"
)

// MaxLength is the largest passphrase the container will hold, in octets.
const MaxLength = 256

// Password is a fixed-capacity, zero-on-destroy byte buffer holding a
// passphrase. The zero value is not usable; construct with New.
type Password struct {
	buf []byte
	n   int
}

// New allocates an empty Password with MaxLength capacity.
func New() *Password {
	return &Password{buf: make([]byte, MaxLength)}
}

// NewFromString allocates a Password and immediately sets its contents.
// Returns barerr.InsufficientMemory if plaintext exceeds MaxLength.
func NewFromString(plaintext string) (*Password, error) {
	p := New()
	if err := p.SetString(plaintext); err != nil {
		return nil, err
	}
	return p, nil
}

// Len reports the number of octets currently held.
func (p *Password) Len() int { return p.n }

// IsEmpty reports whether no octets are held.
func (p *Password) IsEmpty() bool { return p.n == 0 }

// Clear zeroes the buffer and resets the length to zero, without releasing
// the underlying allocation.
func (p *Password) Clear() {
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.n = 0
}

// Destroy is an alias for Clear, used at the end of a Password's lifetime
// to make the intent explicit at call sites (defer password.Destroy()).
func (p *Password) Destroy() { p.Clear() }

// SetString overwrites the held passphrase. Returns barerr.InsufficientMemory
// if plaintext doesn't fit in MaxLength octets.
func (p *Password) SetString(plaintext string) error {
	if len(plaintext) > MaxLength {
		return &barerr.InsufficientMemory{Detail: fmt.Sprintf("password exceeds %d octets", MaxLength)}
	}
	p.Clear()
	copy(p.buf, plaintext)
	p.n = len(plaintext)
	return nil
}

// SetBytes is like SetString but takes a raw octet slice, e.g. as read from
// a binary key file.
func (p *Password) SetBytes(b []byte) error {
	if len(b) > MaxLength {
		return &barerr.InsufficientMemory{Detail: fmt.Sprintf("password exceeds %d octets", MaxLength)}
	}
	p.Clear()
	copy(p.buf, b)
	p.n = len(b)
	return nil
}

// AppendByte appends a single octet, as used by interactive character-at-a-
// time console entry. Returns barerr.InsufficientMemory once MaxLength is
// reached.
func (p *Password) AppendByte(b byte) error {
	if p.n >= MaxLength {
		return &barerr.InsufficientMemory{Detail: fmt.Sprintf("password exceeds %d octets", MaxLength)}
	}
	p.buf[p.n] = b
	p.n++
	return nil
}

// DeleteLast removes the last octet, as used by console backspace handling.
// A no-op if the password is already empty.
func (p *Password) DeleteLast() {
	if p.n == 0 {
		return
	}
	p.n--
	p.buf[p.n] = 0
}

// RandomFill overwrites the password with n cryptographically random
// printable-ASCII characters, used to generate a one-shot archive
// passphrase for --generate-passphrase style workflows.
func (p *Password) RandomFill(n int) error {
	if n > MaxLength {
		return &barerr.InsufficientMemory{Detail: fmt.Sprintf("requested %d exceeds %d octets", n, MaxLength)}
	}
	p.Clear()
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*-_=+"
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return &barerr.Io{Op: "random-read", Path: "crypto/rand", Err: err}
	}
	for i := 0; i < n; i++ {
		p.buf[i] = alphabet[int(raw[i])%len(alphabet)]
	}
	p.n = n
	return nil
}

// Equal performs a constant-time comparison against another Password,
// so that FTP/SFTP/SMB/WebDAV credential checks and archive key-derivation
// comparisons don't leak timing information about a correct prefix.
func (p *Password) Equal(other *Password) bool {
	if p.n != other.n {
		// Still run a dummy comparison of matching length so the false
		// branch doesn't short-circuit in constant time relative to the
		// true branch; length itself isn't secret here.
		subtle.ConstantTimeCompare(p.buf[:p.n], p.buf[:p.n])
		return false
	}
	return subtle.ConstantTimeCompare(p.buf[:p.n], other.buf[:other.n]) == 1
}

// Deployment is a scoped, read-only view of a Password's plaintext, valid
// only for the lifetime of the caller's operation (e.g. one FTP login, one
// key-derivation call). Callers must not retain the returned slice past
// Release; the caller obtains the slice, uses it, and releases it, rather
// than Password exposing its plaintext unconditionally.
type Deployment struct {
	plaintext []byte
	released  bool
}

// Deploy reveals the passphrase plaintext for the scope of one operation.
// The returned Deployment must be released with Release when the caller is
// done (typically via defer), at which point the revealed copy is zeroed.
// The underlying Password itself is left untouched.
func (p *Password) Deploy() *Deployment {
	cp := make([]byte, p.n)
	copy(cp, p.buf[:p.n])
	return &Deployment{plaintext: cp}
}

// Bytes returns the revealed plaintext. Panics if called after Release,
// since that indicates a use-after-scope programming error.
func (d *Deployment) Bytes() []byte {
	barerr.Invariant(!d.released, "password deployment used after release")
	return d.plaintext
}

// String returns the revealed plaintext as a string. Prefer Bytes where a
// []byte suffices, since String necessarily copies into Go's immutable
// string representation, which can't be zeroed afterward.
func (d *Deployment) String() string {
	barerr.Invariant(!d.released, "password deployment used after release")
	return string(d.plaintext)
}

// Release zeroes the revealed plaintext copy. Safe to call more than once.
func (d *Deployment) Release() {
	if d.released {
		return
	}
	for i := range d.plaintext {
		d.plaintext[i] = 0
	}
	d.released = true
}

// QualityScore returns a heuristic 0-100 strength estimate based on length
// and character-class diversity (lower/upper/digit/symbol), used to warn
// the operator before accepting a weak archive passphrase. This is a
// heuristic gate, not a cryptographic strength proof.
func (p *Password) QualityScore() int {
	if p.n == 0 {
		return 0
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for i := 0; i < p.n; i++ {
		r := rune(p.buf[i])
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	classes := 0
	for _, present := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if present {
			classes++
		}
	}
	lengthScore := p.n * 4
	if lengthScore > 60 {
		lengthScore = 60
	}
	classScore := classes * 10
	total := lengthScore + classScore
	if total > 100 {
		total = 100
	}
	return total
}
