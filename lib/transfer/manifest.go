// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"fmt"
	"os"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/codec"
)

// ManifestSuffix is appended to a destination path to name its
// manifest.
const ManifestSuffix = ".manifest"

// Manifest records how a file was transferred.
type Manifest struct {
	Filename    string    `cbor:"filename"`
	Size        int64     `cbor:"size"`
	ChunkSize   int       `cbor:"chunk_size"`
	Chunks      int       `cbor:"chunks"`
	Digest      Digest    `cbor:"digest"`
	CompletedAt time.Time `cbor:"completed_at"`
}

// ManifestPath returns the manifest path for destination.
func ManifestPath(destination string) string {
	return destination + ManifestSuffix
}

// WriteManifest atomically writes manifest to path.
func WriteManifest(path string, manifest Manifest) error {
	return codec.WriteFile(path, manifest)
}

// ReadManifest loads the manifest at path.
func ReadManifest(path string) (Manifest, error) {
	var manifest Manifest
	if err := codec.ReadFile(path, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	return manifest, nil
}

// DescribeManifest returns the manifest at path in CBOR diagnostic
// notation.
func DescribeManifest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading manifest: %w", err)
	}
	diagnostic, err := codec.Diagnose(data)
	if err != nil {
		return "", fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	return diagnostic, nil
}

// Verify checks that the file at path matches manifest's size and
// digest.
func Verify(path string, manifest Manifest) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != manifest.Size {
		return fmt.Errorf("%s: size %d does not match manifest %d", path, info.Size(), manifest.Size)
	}
	digest, err := DigestFile(path)
	if err != nil {
		return err
	}
	if digest != manifest.Digest {
		return fmt.Errorf("%s: digest %s does not match manifest %s", path, digest, manifest.Digest)
	}
	return nil
}
