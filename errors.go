// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package png

import (
	"errors"
	"fmt"
	"io"
)

// DecodeError represents an error that occurred while decoding a PNG stream.
// It includes contextual information about where the error occurred.
type DecodeError struct {
	Op     string // Operation that failed (e.g., "parse IHDR", "inflate image data")
	Offset int64  // Byte offset into the stream (-1 if not known)
	Err    error  // Underlying error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("png: %s at offset %d: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("png: %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Common errors
var (
	// ErrInvalidSignature indicates the stream does not start with the PNG signature
	ErrInvalidSignature = errors.New("not a PNG stream")

	// ErrTruncatedStream indicates the stream ended before a declared length was satisfied
	ErrTruncatedStream = errors.New("truncated stream")

	// ErrCRCMismatch indicates a chunk failed CRC-32 verification
	ErrCRCMismatch = errors.New("chunk CRC mismatch")

	// ErrUnsupportedCriticalChunk indicates a critical chunk type this decoder does not implement
	ErrUnsupportedCriticalChunk = errors.New("unsupported critical chunk")

	// ErrUnsupportedFeature indicates a valid but unimplemented PNG feature
	// (indexed color, interlacing, uncovered bit depths)
	ErrUnsupportedFeature = errors.New("unsupported PNG feature")

	// ErrInvalidChunk indicates a chunk with a malformed structure or payload
	ErrInvalidChunk = errors.New("malformed chunk")

	// ErrChunkOrder indicates a chunk appeared out of the order the PNG spec requires
	ErrChunkOrder = errors.New("chunk out of order")

	// ErrInvalidFilterType indicates a scanline filter byte outside 0-4
	ErrInvalidFilterType = errors.New("invalid scanline filter type")

	// ErrInflate indicates malformed DEFLATE data in the IDAT stream
	ErrInflate = errors.New("malformed compressed data")

	// ErrSizeMismatch indicates the inflated byte count differs from the size
	// implied by the image header
	ErrSizeMismatch = errors.New("decompressed size mismatch")

	// ErrChecksumMismatch indicates a failed zlib Adler-32 verification.
	// It is surfaced as a warning on the decoded image, never as a fatal error.
	ErrChecksumMismatch = errors.New("zlib checksum mismatch")

	// ErrLimitExceeded indicates the image dimensions exceed the configured DecodeLimits
	ErrLimitExceeded = errors.New("decode limits exceeded")
)

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Op: op, Offset: -1, Err: err}
}

// wrapOffsetError wraps an error with operation context and a stream offset
func wrapOffsetError(op string, offset int64, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Op: op, Offset: offset, Err: err}
}

// truncated maps the io package's end-of-stream errors to ErrTruncatedStream.
func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncatedStream
	}
	return err
}
