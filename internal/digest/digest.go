// Package digest provides content digests. A Digest is the invalidation key
// for everything derived from file content: rule results whose fingerprint
// embeds a digest are evicted when that digest changes.
//
// The real content-addressed store lives outside this core; this package only
// supplies the comparable handle that flows through rule parameters.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest identifies a blob of content by its SHA-256 hash and size.
// It is comparable and therefore usable as a map key and rule parameter.
type Digest struct {
	Hex       string
	SizeBytes int64
}

// FromBytes computes the digest of an in-memory blob.
func FromBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest{Hex: hex.EncodeToString(sum[:]), SizeBytes: int64(len(b))}
}

// FromFile computes the digest of a file's current content.
func FromFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("digesting %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, fmt.Errorf("digesting %s: %w", path, err)
	}
	return Digest{Hex: hex.EncodeToString(h.Sum(nil)), SizeBytes: n}, nil
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d.Hex == "" && d.SizeBytes == 0
}

// String returns the canonical "hex/size" rendering.
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hex, d.SizeBytes)
}
