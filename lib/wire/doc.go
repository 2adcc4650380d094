// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the byte layout of every ecgpipe request and
// reply.
//
// All integers and floats are little-endian. Fields sit at fixed
// offsets with no padding, so the layout does not depend on any
// language's in-memory struct representation. Every request begins
// with a 4-byte [Tag]:
//
//	DATA        tag | int32 person | float64 seconds | int32 ecg      (20 bytes)
//	FILE        tag | int64 offset | int32 length | filename | NUL    (17+ bytes)
//	NEWCHANNEL  tag                                                   (4 bytes)
//	QUIT        tag                                                   (4 bytes)
//	CAPACITY    tag                                                   (4 bytes)
//
// Replies carry no tag; their shape is implied by the request:
//
//	DATA        float64 value                  (8 bytes)
//	FILE probe  int64 size                     (8 bytes)
//	FILE chunk  exactly length raw bytes
//	NEWCHANNEL  channel name | NUL             (at most 128 bytes)
//	CAPACITY    int32 capacity                 (4 bytes)
//	QUIT        no reply
//
// The client writes each request in a single write and reads replies
// with exact-length reads. The server decodes requests with
// [ReadRequest], which uses the tag to decide how many bytes follow.
package wire
