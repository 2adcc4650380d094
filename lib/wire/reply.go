// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeDataReply encodes a DATA reply.
func EncodeDataReply(value float64) []byte {
	reply := make([]byte, DataReplySize)
	binary.LittleEndian.PutUint64(reply, math.Float64bits(value))
	return reply
}

// DecodeDataReply decodes a DATA reply. reply must be DataReplySize
// bytes.
func DecodeDataReply(reply []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(reply))
}

// EncodeSizeReply encodes a FILE probe reply.
func EncodeSizeReply(size int64) []byte {
	reply := make([]byte, SizeReplySize)
	binary.LittleEndian.PutUint64(reply, uint64(size))
	return reply
}

// DecodeSizeReply decodes a FILE probe reply. reply must be
// SizeReplySize bytes. The result may be negative; callers treat that
// as a protocol violation.
func DecodeSizeReply(reply []byte) int64 {
	return int64(binary.LittleEndian.Uint64(reply))
}

// EncodeCapacityReply encodes a CAPACITY reply.
func EncodeCapacityReply(capacity int32) []byte {
	reply := make([]byte, CapacityReplySize)
	binary.LittleEndian.PutUint32(reply, uint32(capacity))
	return reply
}

// DecodeCapacityReply decodes a CAPACITY reply.
func DecodeCapacityReply(reply []byte) int32 {
	return int32(binary.LittleEndian.Uint32(reply))
}

// EncodeChannelName encodes a NEWCHANNEL reply: the name followed by
// a NUL terminator.
func EncodeChannelName(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name is empty")
	}
	if len(name) > MaxChannelNameSize {
		return nil, fmt.Errorf("channel name %q is %d bytes, maximum is %d", name, len(name), MaxChannelNameSize)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return nil, fmt.Errorf("channel name %q contains NUL", name)
		}
	}
	reply := make([]byte, 0, len(name)+1)
	reply = append(reply, name...)
	return append(reply, 0), nil
}
