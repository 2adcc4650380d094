// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Tag identifies the kind of a request frame.
type Tag int32

const (
	TagUnknown    Tag = 0
	TagData       Tag = 1
	TagFile       Tag = 2
	TagNewChannel Tag = 3
	TagQuit       Tag = 4
	TagCapacity   Tag = 5
)

func (t Tag) String() string {
	switch t {
	case TagData:
		return "DATA"
	case TagFile:
		return "FILE"
	case TagNewChannel:
		return "NEWCHANNEL"
	case TagQuit:
		return "QUIT"
	case TagCapacity:
		return "CAPACITY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// Frame and reply sizes.
const (
	TagSize            = 4
	DataRequestSize    = 20
	FileHeaderSize     = 16
	DataReplySize      = 8
	SizeReplySize      = 8
	CapacityReplySize  = 4
	MaxChannelNameSize = 127
	MaxFilenameLength  = 4096
)

// MaxCapacity is the largest buffer capacity the protocol can carry:
// the CAPACITY reply and the FILE length field are both int32.
const MaxCapacity = math.MaxInt32

// Valid ranges for DATA requests.
const (
	MinPerson = 1
	MaxPerson = 15
)

// ErrUnknownTag is returned by ReadRequest for a tag outside the
// defined set.
var ErrUnknownTag = errors.New("unknown message tag")

// Request is one decoded request frame.
type Request interface {
	Tag() Tag

	// MarshalBinary returns the complete frame, tag included.
	MarshalBinary() ([]byte, error)
}

// Compile-time interface checks.
var (
	_ Request = DataRequest{}
	_ Request = FileRequest{}
	_ Request = NewChannelRequest{}
	_ Request = QuitRequest{}
	_ Request = CapacityRequest{}
)

// DataRequest asks for one ECG sample.
type DataRequest struct {
	Person  int32
	Seconds float64
	ECG     int32
}

func (DataRequest) Tag() Tag { return TagData }

// Validate checks the person and ECG ranges and that Seconds is a
// finite non-negative number.
func (r DataRequest) Validate() error {
	if r.Person < MinPerson || r.Person > MaxPerson {
		return fmt.Errorf("person %d out of range [%d,%d]", r.Person, MinPerson, MaxPerson)
	}
	if r.ECG != 1 && r.ECG != 2 {
		return fmt.Errorf("ecg %d must be 1 or 2", r.ECG)
	}
	if r.Seconds < 0 || math.IsNaN(r.Seconds) || math.IsInf(r.Seconds, 0) {
		return fmt.Errorf("time %v must be a finite non-negative number of seconds", r.Seconds)
	}
	return nil
}

// MarshalBinary encodes the 20-byte DATA frame.
func (r DataRequest) MarshalBinary() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	frame := make([]byte, DataRequestSize)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(TagData))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(r.Person))
	binary.LittleEndian.PutUint64(frame[8:16], math.Float64bits(r.Seconds))
	binary.LittleEndian.PutUint32(frame[16:20], uint32(r.ECG))
	return frame, nil
}

// FileRequest asks for a file's size (the probe form, Offset=0 and
// Length=0) or for Length bytes starting at Offset.
type FileRequest struct {
	Offset   int64
	Length   int32
	Filename string
}

func (FileRequest) Tag() Tag { return TagFile }

// IsProbe reports whether the request is the size-probe form.
func (r FileRequest) IsProbe() bool { return r.Offset == 0 && r.Length == 0 }

// Validate checks the offset, length and filename constraints.
func (r FileRequest) Validate() error {
	if r.Offset < 0 {
		return fmt.Errorf("file offset %d is negative", r.Offset)
	}
	if r.Length < 0 {
		return fmt.Errorf("file length %d is negative", r.Length)
	}
	return ValidateFilename(r.Filename)
}

// MarshalBinary encodes the FILE frame: 16-byte header, filename, NUL.
func (r FileRequest) MarshalBinary() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	frame := make([]byte, FileHeaderSize, FileHeaderSize+len(r.Filename)+1)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(TagFile))
	binary.LittleEndian.PutUint64(frame[4:12], uint64(r.Offset))
	binary.LittleEndian.PutUint32(frame[12:16], uint32(r.Length))
	frame = append(frame, r.Filename...)
	frame = append(frame, 0)
	return frame, nil
}

// ValidateFilename checks that name can be carried in a FILE frame.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return errors.New("filename is empty")
	case len(name) > MaxFilenameLength:
		return fmt.Errorf("filename is %d bytes, maximum is %d", len(name), MaxFilenameLength)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("filename %q contains NUL", name)
	}
	return nil
}

// NewChannelRequest asks the server to provision a new channel.
type NewChannelRequest struct{}

func (NewChannelRequest) Tag() Tag                       { return TagNewChannel }
func (NewChannelRequest) MarshalBinary() ([]byte, error) { return tagOnly(TagNewChannel), nil }

// QuitRequest ends dispatching on the channel it is sent on.
type QuitRequest struct{}

func (QuitRequest) Tag() Tag                       { return TagQuit }
func (QuitRequest) MarshalBinary() ([]byte, error) { return tagOnly(TagQuit), nil }

// CapacityRequest asks for the server's buffer capacity.
type CapacityRequest struct{}

func (CapacityRequest) Tag() Tag                       { return TagCapacity }
func (CapacityRequest) MarshalBinary() ([]byte, error) { return tagOnly(TagCapacity), nil }

func tagOnly(tag Tag) []byte {
	frame := make([]byte, TagSize)
	binary.LittleEndian.PutUint32(frame, uint32(tag))
	return frame
}

// ReadRequest decodes one request frame from r. It returns io.EOF
// only when r is at EOF before the first byte of a frame; a frame cut
// short returns io.ErrUnexpectedEOF.
func ReadRequest(r *bufio.Reader) (Request, error) {
	var tagBytes [TagSize]byte
	if _, err := io.ReadFull(r, tagBytes[:]); err != nil {
		return nil, err
	}
	tag := Tag(int32(binary.LittleEndian.Uint32(tagBytes[:])))

	switch tag {
	case TagData:
		var body [DataRequestSize - TagSize]byte
		if err := readBody(r, body[:]); err != nil {
			return nil, fmt.Errorf("reading DATA frame: %w", err)
		}
		return DataRequest{
			Person:  int32(binary.LittleEndian.Uint32(body[0:4])),
			Seconds: math.Float64frombits(binary.LittleEndian.Uint64(body[4:12])),
			ECG:     int32(binary.LittleEndian.Uint32(body[12:16])),
		}, nil

	case TagFile:
		var header [FileHeaderSize - TagSize]byte
		if err := readBody(r, header[:]); err != nil {
			return nil, fmt.Errorf("reading FILE header: %w", err)
		}
		filename, err := readCString(r, MaxFilenameLength)
		if err != nil {
			return nil, fmt.Errorf("reading FILE filename: %w", err)
		}
		request := FileRequest{
			Offset:   int64(binary.LittleEndian.Uint64(header[0:8])),
			Length:   int32(binary.LittleEndian.Uint32(header[8:12])),
			Filename: filename,
		}
		if err := request.Validate(); err != nil {
			return nil, fmt.Errorf("invalid FILE frame: %w", err)
		}
		return request, nil

	case TagNewChannel:
		return NewChannelRequest{}, nil
	case TagQuit:
		return QuitRequest{}, nil
	case TagCapacity:
		return CapacityRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, int32(tag))
	}
}

// readBody reads the remainder of a frame whose tag has already been
// consumed, so EOF here is always unexpected.
func readBody(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readCString reads bytes up to and excluding a NUL terminator. More
// than limit bytes before the NUL is an error.
func readCString(r *bufio.Reader, limit int) (string, error) {
	var builder strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == 0 {
			return builder.String(), nil
		}
		if builder.Len() == limit {
			return "", fmt.Errorf("string exceeds %d bytes without terminator", limit)
		}
		builder.WriteByte(b)
	}
}
