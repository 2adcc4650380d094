// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is the keyed BLAKE3 hash of a transferred file's contents.
type Digest [32]byte

// String returns the digest in lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses the hex form produced by String.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// digestKey separates transfer digests from any other BLAKE3 use of
// the same bytes.
var digestKey = [32]byte{
	'e', 'c', 'g', 'p', 'i', 'p', 'e', '.', 't', 'r', 'a', 'n', 's', 'f', 'e', 'r',
}

func newHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("transfer: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sum(hasher *blake3.Hasher) Digest {
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// DigestBytes returns the digest of data.
func DigestBytes(data []byte) Digest {
	hasher := newHasher()
	hasher.Write(data)
	return sum(hasher)
}

// DigestFile returns the digest of the file at path.
func DigestFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer file.Close()

	hasher := newHasher()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return sum(hasher), nil
}
