// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/clock"
	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

// Fetcher issues FILE requests. *request.Client implements it.
type Fetcher interface {
	FileSize(filename string) (int64, error)
	FileChunk(filename string, offset int64, buf []byte) error
}

// Options configures Download.
type Options struct {
	// Capacity is the largest chunk requested. Must be at least 1.
	Capacity int

	// Manifest writes ManifestPath(destination) after a successful
	// download.
	Manifest bool

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Result describes a completed download.
type Result struct {
	Filename  string
	Path      string
	Size      int64
	ChunkSize int
	Chunks    int
	Digest    Digest
	Elapsed   time.Duration

	// ManifestPath is empty unless a manifest was written.
	ManifestPath string
}

// Download copies filename from the server into destination, creating
// parent directories as needed. On failure the partial destination is
// removed. ctx is checked between chunks; an in-flight request is
// always completed first.
func Download(ctx context.Context, fetcher Fetcher, filename, destination string, options Options) (Result, error) {
	if options.Capacity < 1 || options.Capacity > wire.MaxCapacity {
		return Result{}, fmt.Errorf("transfer capacity must be in 1..%d, got %d", wire.MaxCapacity, options.Capacity)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := clk.Now()

	size, err := fetcher.FileSize(filename)
	if err != nil {
		return Result{}, fmt.Errorf("probing %q: %w", filename, err)
	}
	logger.Info("downloading", "file", filename, "size", size, "capacity", options.Capacity)

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return Result{}, fmt.Errorf("creating destination directory: %w", err)
	}
	file, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("creating destination: %w", err)
	}

	chunks, digest, err := copyChunks(ctx, fetcher, filename, size, options.Capacity, file, logger)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if removeErr := os.Remove(destination); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.Warn("removing partial download", "path", destination, "error", removeErr)
		}
		return Result{}, fmt.Errorf("downloading %q: %w", filename, err)
	}

	result := Result{
		Filename:  filename,
		Path:      destination,
		Size:      size,
		ChunkSize: options.Capacity,
		Chunks:    chunks,
		Digest:    digest,
		Elapsed:   clock.Since(clk, start),
	}

	if options.Manifest {
		manifestPath := ManifestPath(destination)
		err := WriteManifest(manifestPath, Manifest{
			Filename:    filename,
			Size:        size,
			ChunkSize:   options.Capacity,
			Chunks:      chunks,
			Digest:      digest,
			CompletedAt: clk.Now().UTC(),
		})
		if err != nil {
			return result, fmt.Errorf("writing manifest for %q: %w", filename, err)
		}
		result.ManifestPath = manifestPath
	}

	logger.Info("download complete",
		"file", filename,
		"path", destination,
		"size", size,
		"chunks", chunks,
		"digest", digest.String(),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// copyChunks requests [0, size) in chunks of at most capacity bytes
// and writes each at its offset in file.
func copyChunks(ctx context.Context, fetcher Fetcher, filename string, size int64, capacity int, file *os.File, logger *slog.Logger) (int, Digest, error) {
	hasher := newHasher()
	if size == 0 {
		return 0, sum(hasher), nil
	}

	buf := make([]byte, min(int64(capacity), size))
	chunks := 0
	for offset := int64(0); offset < size; {
		if err := ctx.Err(); err != nil {
			return chunks, Digest{}, err
		}
		length := min(int64(capacity), size-offset)
		chunk := buf[:length]
		if err := fetcher.FileChunk(filename, offset, chunk); err != nil {
			return chunks, Digest{}, err
		}
		if _, err := file.WriteAt(chunk, offset); err != nil {
			return chunks, Digest{}, fmt.Errorf("writing at offset %d: %w", offset, err)
		}
		hasher.Write(chunk)
		chunks++
		logger.Debug("chunk received", "file", filename, "offset", offset, "length", length)
		offset += length
	}
	return chunks, sum(hasher), nil
}
