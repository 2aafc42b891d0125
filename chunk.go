// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package png

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// chunkKind is the closed set of chunk classifications this decoder works
// with. Unknown critical chunks are rejected during classification, so code
// downstream of the chunk reader never sees an open-ended type code.
type chunkKind int

const (
	kindIHDR chunkKind = iota
	kindPLTE
	kindIDAT
	kindIEND
	kindAncillary
)

// maxChunkLength is the PNG spec ceiling for a chunk's declared length (2^31-1).
const maxChunkLength = 0x7fffffff

// chunk is one verified record of the PNG container: a type tag and its
// payload. The CRC has already been checked when a chunk is returned.
type chunk struct {
	kind chunkKind
	tag  [4]byte
	data []byte
}

func (c *chunk) tagString() string {
	return string(c.tag[:])
}

// chunkReader splits a byte stream positioned immediately after the 8-byte
// PNG signature into a sequence of chunk records. It is a single-pass
// reader: the caller consumes records until IEND and must not restart it.
type chunkReader struct {
	r      io.Reader
	offset int64 // offset of the next unread byte, for error context
	tmp    [8]byte
}

func newChunkReader(r io.Reader) *chunkReader {
	// The signature is 8 bytes and is validated by the caller.
	return &chunkReader{r: r, offset: 8}
}

// next reads one chunk record: 4-byte big-endian length, 4-byte type tag,
// payload, 4-byte CRC-32 over tag and payload. The CRC is verified before
// the chunk is returned.
func (cr *chunkReader) next() (*chunk, error) {
	start := cr.offset
	if _, err := io.ReadFull(cr.r, cr.tmp[:8]); err != nil {
		return nil, wrapOffsetError("read chunk header", start, truncated(err))
	}
	cr.offset += 8

	length := binary.BigEndian.Uint32(cr.tmp[:4])
	if length > maxChunkLength {
		return nil, wrapOffsetError("read chunk header", start,
			fmt.Errorf("%w: declared length %d", ErrInvalidChunk, length))
	}

	c := &chunk{}
	copy(c.tag[:], cr.tmp[4:8])
	kind, err := classifyChunk(c.tag)
	if err != nil {
		return nil, wrapOffsetError("read chunk "+c.tagString(), start, err)
	}
	c.kind = kind

	c.data, err = cr.readPayload(int(length))
	if err != nil {
		return nil, wrapOffsetError("read chunk "+c.tagString(), start, truncated(err))
	}
	cr.offset += int64(length)

	if _, err := io.ReadFull(cr.r, cr.tmp[:4]); err != nil {
		return nil, wrapOffsetError("read chunk "+c.tagString(), start, truncated(err))
	}
	cr.offset += 4

	declared := binary.BigEndian.Uint32(cr.tmp[:4])
	sum := crc32.Update(0, crc32.IEEETable, c.tag[:])
	sum = crc32.Update(sum, crc32.IEEETable, c.data)
	if declared != sum {
		return nil, wrapOffsetError("read chunk "+c.tagString(), start,
			fmt.Errorf("%w: declared %#08x, computed %#08x", ErrCRCMismatch, declared, sum))
	}

	return c, nil
}

// payloadPiece bounds how much readPayload commits ahead of the bytes it
// has actually received.
const payloadPiece = 1 << 20

// readPayload reads n payload bytes. The declared length is attacker
// controlled, up to maxChunkLength, so the buffer grows piecewise as bytes
// arrive instead of being allocated to n up front.
func (cr *chunkReader) readPayload(n int) ([]byte, error) {
	data := make([]byte, min(n, payloadPiece))
	read := 0
	for {
		if _, err := io.ReadFull(cr.r, data[read:]); err != nil {
			return nil, err
		}
		read = len(data)
		if read == n {
			return data, nil
		}
		data = append(data, make([]byte, min(n-read, payloadPiece))...)
	}
}

// classifyChunk maps a 4-byte type tag onto the closed chunkKind set.
// Bit 5 of the first tag byte distinguishes ancillary (lowercase) from
// critical (uppercase) chunks; unrecognized critical chunks are fatal,
// unrecognized ancillary chunks are surfaced for the caller to skip.
func classifyChunk(tag [4]byte) (chunkKind, error) {
	for _, b := range tag {
		if !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z') {
			return 0, fmt.Errorf("%w: type tag %q", ErrInvalidChunk, tag[:])
		}
	}

	switch string(tag[:]) {
	case "IHDR":
		return kindIHDR, nil
	case "PLTE":
		return kindPLTE, nil
	case "IDAT":
		return kindIDAT, nil
	case "IEND":
		return kindIEND, nil
	}

	if tag[0]&0x20 != 0 {
		return kindAncillary, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCriticalChunk, tag[:])
}
