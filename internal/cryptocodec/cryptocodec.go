// Package cryptocodec implements the per-algorithm block ciphers used to
// encrypt archive chunks. The codec never applies its own padding: the
// enclosing
// chunk layer always hands it a whole number of cipher blocks and is
// responsible for zero-fill padding up to the block boundary, so the codec
// only ever sees and returns exact multiples of BlockSize.
package cryptocodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/secret"
)

// Algorithm identifies a supported cipher family member.
type Algorithm string

const (
	None       Algorithm = "none"
	AES128CBC  Algorithm = "aes128-cbc"
	AES256CBC  Algorithm = "aes256-cbc"
	ChaCha20   Algorithm = "chacha20"
)

// KeySize returns the raw key length in octets for algo.
func KeySize(algo Algorithm) (int, error) {
	switch algo {
	case None:
		return 0, nil
	case AES128CBC:
		return 16, nil
	case AES256CBC:
		return 32, nil
	case ChaCha20:
		return chacha20.KeySize, nil
	default:
		return 0, &barerr.UnsupportedCipher{Algorithm: string(algo)}
	}
}

// BlockSize returns the cipher block size for algo. This is the alignment
// unit the chunk layer must pad to before handing data to Encrypt/Decrypt.
// ChaCha20 is a stream cipher with no inherent block alignment requirement,
// but the codec reports aes.BlockSize for it anyway so the chunk layer can
// apply one uniform alignment policy regardless of which algorithm an
// archive was created with.
func BlockSize(algo Algorithm) (int, error) {
	switch algo {
	case None:
		return 1, nil
	case AES128CBC, AES256CBC:
		return aes.BlockSize, nil
	case ChaCha20:
		return aes.BlockSize, nil
	default:
		return 0, &barerr.UnsupportedCipher{Algorithm: string(algo)}
	}
}

// SaltSize returns the salt/nonce length required by DeriveKey for algo
// (the archive engine draws a fresh salt for every physical part). DeriveKey
// also uses it as the length of the derived IV.
func SaltSize(algo Algorithm) (int, error) {
	switch algo {
	case None:
		return 0, nil
	case AES128CBC, AES256CBC:
		return aes.BlockSize, nil // also the length of the derived initial IV
	case ChaCha20:
		return chacha20.NonceSize, nil
	default:
		return 0, &barerr.UnsupportedCipher{Algorithm: string(algo)}
	}
}

// Derived holds the key material produced by DeriveKey: a raw key plus an
// initial IV/nonce ready to seed a Codec.
type Derived struct {
	Key []byte
	IV  []byte
}

// DeriveKey derives key material from a deployed password and a salt using
// HKDF-SHA256. The archive engine calls it once per physical part with that
// part's fresh salt, so every part gets its own key and IV; this package
// makes no per-part decisions of its own.
func DeriveKey(algo Algorithm, pw *secret.Password, salt []byte) (*Derived, error) {
	if algo == None {
		return &Derived{}, nil
	}
	keySize, err := KeySize(algo)
	if err != nil {
		return nil, err
	}
	ivSize, err := SaltSize(algo)
	if err != nil {
		return nil, err
	}

	dep := pw.Deploy()
	defer dep.Release()

	derived, err := hkdf.Key(sha256.New, dep.Bytes(), salt, string(algo), keySize+ivSize)
	if err != nil {
		return nil, &barerr.UnsupportedCipher{Algorithm: fmt.Sprintf("%s (key derivation failed: %v)", algo, err)}
	}
	return &Derived{
		Key: derived[:keySize],
		IV:  derived[keySize:],
	}, nil
}

// RandomSalt generates a fresh random salt/nonce of the size algo requires.
func RandomSalt(algo Algorithm) ([]byte, error) {
	n, err := SaltSize(algo)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, &barerr.Io{Op: "random-read", Path: "crypto/rand", Err: err}
	}
	return salt, nil
}

// Codec streams whole cipher blocks through a single algorithm instance for
// the lifetime of one physical part's encrypted stream. It holds no padding
// logic: EncryptBlocks/DecryptBlocks require len(data) to already be a
// multiple of BlockSize(algo); the chunk layer pads every chunk
// (including the final one) before calling in.
type Codec struct {
	algo      Algorithm
	blockSize int
	cbcBlock  cipher.Block // AES*CBC only
	chacha    *chacha20.Cipher
}

// NewEncoder constructs a Codec seeded to encrypt, starting from the given
// derived key material.
func NewEncoder(algo Algorithm, derived *Derived) (*Codec, error) {
	return newCodec(algo, derived)
}

// NewDecoder constructs a Codec seeded to decrypt. For the algorithms
// supported here the cipher state itself is symmetric in construction; the
// direction is selected at EncryptBlocks/DecryptBlocks call time.
func NewDecoder(algo Algorithm, derived *Derived) (*Codec, error) {
	return newCodec(algo, derived)
}

func newCodec(algo Algorithm, derived *Derived) (*Codec, error) {
	blockSize, err := BlockSize(algo)
	if err != nil {
		return nil, err
	}
	c := &Codec{algo: algo, blockSize: blockSize}

	switch algo {
	case None:
		return c, nil
	case AES128CBC, AES256CBC:
		block, err := aes.NewCipher(derived.Key)
		if err != nil {
			return nil, &barerr.UnsupportedCipher{Algorithm: fmt.Sprintf("%s: %v", algo, err)}
		}
		c.cbcBlock = block
		return c, nil
	case ChaCha20:
		stream, err := chacha20.NewUnauthenticatedCipher(derived.Key, derived.IV)
		if err != nil {
			return nil, &barerr.UnsupportedCipher{Algorithm: fmt.Sprintf("%s: %v", algo, err)}
		}
		c.chacha = stream
		return c, nil
	default:
		return nil, &barerr.UnsupportedCipher{Algorithm: string(algo)}
	}
}

// BlockSize reports the alignment unit this codec instance was constructed
// for.
func (c *Codec) BlockSize() int { return c.blockSize }

// EncryptBlocks encrypts data into a freshly allocated buffer.
// iv is the chaining IV to use for this call (for AES-CBC); callers
// chaining CBC across successive calls pass the previous call's last
// ciphertext block here. len(data) must already be a multiple of BlockSize.
func (c *Codec) EncryptBlocks(data []byte, iv []byte) ([]byte, error) {
	if err := c.checkAligned(data); err != nil {
		return nil, err
	}
	switch c.algo {
	case None:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case AES128CBC, AES256CBC:
		out := make([]byte, len(data))
		mode := cipher.NewCBCEncrypter(c.cbcBlock, iv)
		mode.CryptBlocks(out, data)
		return out, nil
	case ChaCha20:
		out := make([]byte, len(data))
		c.chacha.XORKeyStream(out, data)
		return out, nil
	default:
		return nil, &barerr.UnsupportedCipher{Algorithm: string(c.algo)}
	}
}

// DecryptBlocks is the inverse of EncryptBlocks.
func (c *Codec) DecryptBlocks(data []byte, iv []byte) ([]byte, error) {
	if err := c.checkAligned(data); err != nil {
		return nil, err
	}
	switch c.algo {
	case None:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case AES128CBC, AES256CBC:
		out := make([]byte, len(data))
		mode := cipher.NewCBCDecrypter(c.cbcBlock, iv)
		mode.CryptBlocks(out, data)
		return out, nil
	case ChaCha20:
		// XOR with a stream cipher is its own inverse.
		out := make([]byte, len(data))
		c.chacha.XORKeyStream(out, data)
		return out, nil
	default:
		return nil, &barerr.UnsupportedCipher{Algorithm: string(c.algo)}
	}
}

func (c *Codec) checkAligned(data []byte) error {
	if c.algo == None || c.algo == ChaCha20 {
		return nil
	}
	if len(data)%c.blockSize != 0 {
		return &barerr.CorruptArchive{Reason: fmt.Sprintf("ciphertext length %d not a multiple of block size %d", len(data), c.blockSize)}
	}
	return nil
}
