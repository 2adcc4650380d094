// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides ecgpipe's standard CBOR encoding configuration.
//
// The byte channel protocol is a fixed little-endian layout and does
// not use this package. CBOR is for the files ecgpipe writes next to
// its output: transfer manifests today. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes, so two manifests for the same
// download compare equal byte for byte.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// WriteFile and ReadFile wrap those for on-disk state. WriteFile
// replaces the target atomically, so a reader never observes a
// partially written file.
//
// Types serialized only as CBOR use `cbor` struct tags.
package codec
