// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ecgstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// SampleInterval is the spacing between consecutive samples in a
// recording, in seconds (250 Hz).
const SampleInterval = 0.004

// ErrNoSample is returned when a recording has no sample at the
// requested time.
var ErrNoSample = errors.New("no sample at requested time")

// Sample is one row of a recording.
type Sample struct {
	Seconds float64
	ECG1    float64
	ECG2    float64
}

// Lead returns the value of ECG lead 1 or 2.
func (s Sample) Lead(ecg int) (float64, error) {
	switch ecg {
	case 1:
		return s.ECG1, nil
	case 2:
		return s.ECG2, nil
	default:
		return 0, fmt.Errorf("ecg lead %d does not exist", ecg)
	}
}

// Recording is the full sample sequence for one person.
type Recording struct {
	Samples []Sample
}

// At returns the sample recorded at seconds. Times are matched to the
// nearest sample slot; a slot whose recorded time does not agree with
// the requested one is reported as missing.
func (r *Recording) At(seconds float64) (Sample, error) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Sample{}, fmt.Errorf("time %v: %w", seconds, ErrNoSample)
	}
	// Compare as float before converting: int() of a slot past the
	// int range is undefined.
	slot := math.Round(seconds / SampleInterval)
	if slot < 0 || slot >= float64(len(r.Samples)) {
		return Sample{}, fmt.Errorf("time %v beyond recording end %v: %w",
			seconds, float64(len(r.Samples)-1)*SampleInterval, ErrNoSample)
	}
	index := int(slot)
	sample := r.Samples[index]
	if math.Abs(sample.Seconds-seconds) > SampleInterval/2 {
		return Sample{}, fmt.Errorf("time %v (slot %d records %v): %w", seconds, index, sample.Seconds, ErrNoSample)
	}
	return sample, nil
}

// ParseRecording reads "seconds,ecg1,ecg2" rows.
func ParseRecording(r io.Reader) (*Recording, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	recording := &Recording{}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return recording, nil
		}
		if err != nil {
			return nil, err
		}
		var values [3]float64
		for i, field := range record {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
		}
		recording.Samples = append(recording.Samples, Sample{Seconds: values[0], ECG1: values[1], ECG2: values[2]})
	}
}

// Store serves samples from the recordings in a directory.
type Store struct {
	directory string

	mu         sync.Mutex
	recordings map[int]*Recording
}

// Open returns a Store over directory. Files are read lazily.
func Open(directory string) *Store {
	return &Store{
		directory:  directory,
		recordings: make(map[int]*Recording),
	}
}

// Recording returns the parsed recording for person, loading it on
// first use.
func (s *Store) Recording(person int) (*Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if recording, ok := s.recordings[person]; ok {
		return recording, nil
	}
	path := filepath.Join(s.directory, strconv.Itoa(person)+".csv")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording for person %d: %w", person, err)
	}
	defer file.Close()

	recording, err := ParseRecording(file)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	s.recordings[person] = recording
	return recording, nil
}

// Value returns lead ecg of person's recording at seconds.
func (s *Store) Value(person int, seconds float64, ecg int) (float64, error) {
	recording, err := s.Recording(person)
	if err != nil {
		return 0, err
	}
	sample, err := recording.At(seconds)
	if err != nil {
		return 0, fmt.Errorf("person %d: %w", person, err)
	}
	return sample.Lead(ecg)
}
