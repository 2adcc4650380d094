// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// DefaultSamples is the number of sample slots in a bulk scan.
const DefaultSamples = 1000

// Interval is the spacing between sample slots, in seconds.
const Interval = 0.004

// CompressedSuffix is appended to the output path when WriteFile
// compresses.
const CompressedSuffix = ".zst"

// Sampler issues DATA requests. *request.Client implements it.
type Sampler interface {
	Data(person int, seconds float64, ecg int) (float64, error)
}

// Row is one sample slot of a scan.
type Row struct {
	Time float64
	ECG1 float64
	ECG2 float64
}

// Time returns the time of sample slot index.
func Time(index int) float64 {
	return float64(index) * Interval
}

// Scan requests lead 1 then lead 2 for each of the first samples slots
// of person's recording. It stops at the first failed request. ctx is
// checked between slots.
func Scan(ctx context.Context, sampler Sampler, person, samples int, logger *slog.Logger) ([]Row, error) {
	if samples < 0 {
		return nil, fmt.Errorf("sample count must not be negative, got %d", samples)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rows := make([]Row, 0, samples)
	for index := range samples {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		seconds := Time(index)
		ecg1, err := sampler.Data(person, seconds, 1)
		if err != nil {
			return rows, fmt.Errorf("person %d at %vs lead 1: %w", person, seconds, err)
		}
		ecg2, err := sampler.Data(person, seconds, 2)
		if err != nil {
			return rows, fmt.Errorf("person %d at %vs lead 2: %w", person, seconds, err)
		}
		rows = append(rows, Row{Time: seconds, ECG1: ecg1, ECG2: ecg2})
	}
	logger.Info("scan complete", "person", person, "samples", len(rows))
	return rows, nil
}

// WriteCSV writes rows as "time,ecg1,ecg2" lines with no header.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	record := make([]string, 3)
	for _, row := range rows {
		record[0] = formatValue(row.Time)
		record[1] = formatValue(row.ECG1)
		record[2] = formatValue(row.ECG2)
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// formatValue writes six significant digits, so i*0.004 prints as
// 0.036 rather than 0.036000000000000004.
func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'g', 6, 64)
}

// WriteFile writes rows to path as CSV, replacing any existing file
// atomically. With compress, the CSV is zstd-compressed and the
// written path is path+CompressedSuffix. Parent directories are
// created. It returns the path written.
func WriteFile(path string, rows []Row, compress bool) (string, error) {
	if compress {
		path += CompressedSuffix
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("creating temporary file: %w", err)
	}
	if err := writeRows(file, rows, compress); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("renaming %s into place: %w", path, err)
	}
	return path, nil
}

func writeRows(file *os.File, rows []Row, compress bool) error {
	if !compress {
		if err := WriteCSV(file, rows); err != nil {
			return err
		}
		return file.Sync()
	}

	encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if err := WriteCSV(encoder, rows); err != nil {
		encoder.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finishing zstd stream: %w", err)
	}
	return file.Sync()
}

// ReadFile reads a file written by WriteFile, decompressing it when
// path ends in CompressedSuffix.
func ReadFile(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var reader io.Reader = file
	if filepath.Ext(path) == CompressedSuffix {
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	}
	return ReadCSV(reader)
}

// ReadCSV parses "time,ecg1,ecg2" lines.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(records))
	for i, record := range records {
		var values [3]float64
		for column, field := range record {
			values[column], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", i+1, column+1, err)
			}
		}
		rows[i] = Row{Time: values[0], ECG1: values[1], ECG2: values[2]}
	}
	return rows, nil
}
