// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package png implements reading of PNG image streams.
//
// # Overview
//
// The package decodes a PNG byte stream into raw pixel bytes without going
// through a general-purpose imaging library. It covers the critical chunks
// of the PNG container (IHDR, PLTE, IDAT, IEND) for non-interlaced
// truecolor images: RGB and RGBA at bit depths 8 and 16. Ancillary chunks
// are skipped after their checksums verify; critical chunks outside the
// covered set are rejected.
//
// Decoding runs as a strictly sequential pipeline: the chunk reader splits
// and CRC-checks the container, the inflate engine decompresses the
// concatenated IDAT payload (the zlib wrapper and all three DEFLATE block
// types are implemented here), and the scanline reconstructor inverts the
// per-row predictive filters to recover the pixel bytes. The first error
// in any stage aborts the decode; no partial image is ever returned.
//
// The package performs no file or network I/O and no logging. Callers hand
// it an io.Reader or a byte slice and receive an Image whose Pixels buffer
// they own. Independent decode calls share no mutable state and may run
// concurrently.
package png

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var pngSignature = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ColorType identifies the pixel layout of a decoded image. Only the
// truecolor types are representable; indexed color (3) is rejected during
// header parsing, so the type stays a closed set and a future indexed
// extension would widen it here without touching the inflate or defilter
// stages.
type ColorType uint8

const (
	// ColorRGB is truecolor: three channels per pixel.
	ColorRGB ColorType = 2

	// ColorRGBA is truecolor with alpha: four channels per pixel.
	ColorRGBA ColorType = 6
)

// Channels returns the number of channels per pixel.
func (c ColorType) Channels() int {
	if c == ColorRGBA {
		return 4
	}
	return 3
}

func (c ColorType) String() string {
	switch c {
	case ColorRGB:
		return "RGB"
	case ColorRGBA:
		return "RGBA"
	}
	return fmt.Sprintf("ColorType(%d)", uint8(c))
}

// Image is a decoded PNG image. Pixels holds Height rows of
// Width*BytesPerPixel bytes each, in row-major order with channels in
// R, G, B[, A] order; 16-bit samples are big-endian. The buffer belongs to
// the caller once Decode returns.
type Image struct {
	Width     int
	Height    int
	ColorType ColorType
	BitDepth  int
	Pixels    []byte

	// Warnings collects non-fatal findings, currently only a failed
	// Adler-32 verification of the zlib stream (ErrChecksumMismatch).
	Warnings []error
}

// BytesPerPixel returns the pixel stride in bytes.
func (img *Image) BytesPerPixel() int {
	return img.ColorType.Channels() * img.BitDepth / 8
}

// Stride returns the length in bytes of one row of Pixels.
func (img *Image) Stride() int {
	return img.Width * img.BytesPerPixel()
}

// Decoding stage. The PNG spec requires IHDR first, PLTE (if present)
// before IDAT, and IEND last.
const (
	dsStart = iota
	dsSeenIHDR
	dsSeenPLTE
	dsSeenIDAT
	dsSeenIEND
)

type imageHeader struct {
	width     int
	height    int
	colorType ColorType
	bitDepth  int
}

func (h *imageHeader) bytesPerPixel() int {
	return h.colorType.Channels() * h.bitDepth / 8
}

type decoder struct {
	cr     *chunkReader
	limits DecodeLimits
	stage  int
	header imageHeader
	idat   []byte
}

// Decode reads a PNG image from r and returns the decoded pixels. It
// applies DefaultDecodeLimits; use DecodeWithLimits to change or disable
// them.
func Decode(r io.Reader) (*Image, error) {
	return DecodeWithLimits(r, DefaultDecodeLimits())
}

// DecodeBytes decodes a PNG image held in memory.
func DecodeBytes(data []byte) (*Image, error) {
	return Decode(bytes.NewReader(data))
}

// DecodeWithLimits reads a PNG image from r, bounding resource use by
// limits. A zero DecodeLimits disables all limits.
func DecodeWithLimits(r io.Reader, limits DecodeLimits) (*Image, error) {
	var sig [8]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return nil, wrapError("read signature", truncated(err))
	}
	if sig != pngSignature {
		return nil, wrapError("read signature", ErrInvalidSignature)
	}

	d := &decoder{cr: newChunkReader(r), limits: limits}
	if err := d.readChunks(); err != nil {
		return nil, err
	}
	return d.assemble()
}

// readChunks walks the container until IEND, dispatching each verified
// chunk. Anything after IEND is left unread and ignored.
func (d *decoder) readChunks() error {
	for d.stage != dsSeenIEND {
		c, err := d.cr.next()
		if err != nil {
			return err
		}
		if d.stage == dsStart && c.kind != kindIHDR {
			return wrapError("parse "+c.tagString(), fmt.Errorf("%w: first chunk is %s, want IHDR", ErrChunkOrder, c.tagString()))
		}

		switch c.kind {
		case kindIHDR:
			if d.stage != dsStart {
				return wrapError("parse IHDR", fmt.Errorf("%w: duplicate IHDR", ErrChunkOrder))
			}
			if err := d.parseIHDR(c.data); err != nil {
				return err
			}
			d.stage = dsSeenIHDR

		case kindPLTE:
			if d.stage != dsSeenIHDR {
				return wrapError("parse PLTE", fmt.Errorf("%w: PLTE must follow IHDR and precede IDAT", ErrChunkOrder))
			}
			if err := validatePLTE(c.data); err != nil {
				return wrapError("parse PLTE", err)
			}
			d.stage = dsSeenPLTE

		case kindIDAT:
			d.idat = append(d.idat, c.data...)
			d.stage = dsSeenIDAT

		case kindIEND:
			if len(c.data) != 0 {
				return wrapError("parse IEND", fmt.Errorf("%w: IEND length %d", ErrInvalidChunk, len(c.data)))
			}
			if d.stage != dsSeenIDAT {
				return wrapError("parse IEND", fmt.Errorf("%w: no image data before IEND", ErrChunkOrder))
			}
			d.stage = dsSeenIEND

		case kindAncillary:
			// Checksum-verified and skipped.
		}
	}
	return nil
}

func (d *decoder) parseIHDR(data []byte) error {
	if len(data) != 13 {
		return wrapError("parse IHDR", fmt.Errorf("%w: IHDR length %d, want 13", ErrInvalidChunk, len(data)))
	}

	width := binary.BigEndian.Uint32(data[0:4])
	height := binary.BigEndian.Uint32(data[4:8])
	bitDepth := data[8]
	colorType := data[9]
	compression := data[10]
	filterMethod := data[11]
	interlace := data[12]

	if compression != 0 {
		return wrapError("parse IHDR", fmt.Errorf("%w: compression method %d", ErrUnsupportedFeature, compression))
	}
	if filterMethod != 0 {
		return wrapError("parse IHDR", fmt.Errorf("%w: filter method %d", ErrUnsupportedFeature, filterMethod))
	}
	if interlace != 0 {
		return wrapError("parse IHDR", fmt.Errorf("%w: interlaced image", ErrUnsupportedFeature))
	}

	switch colorType {
	case uint8(ColorRGB):
		d.header.colorType = ColorRGB
	case uint8(ColorRGBA):
		d.header.colorType = ColorRGBA
	case 3:
		return wrapError("parse IHDR", fmt.Errorf("%w: indexed color", ErrUnsupportedFeature))
	default:
		return wrapError("parse IHDR", fmt.Errorf("%w: color type %d", ErrUnsupportedFeature, colorType))
	}

	if bitDepth != 8 && bitDepth != 16 {
		return wrapError("parse IHDR", fmt.Errorf("%w: bit depth %d for color type %s", ErrUnsupportedFeature, bitDepth, d.header.colorType))
	}
	d.header.bitDepth = int(bitDepth)

	if width == 0 || height == 0 || width > maxChunkLength || height > maxChunkLength {
		return wrapError("parse IHDR", fmt.Errorf("%w: dimensions %dx%d", ErrInvalidChunk, width, height))
	}
	d.header.width = int(width)
	d.header.height = int(height)

	// The filtered buffer is height*(1+width*bpp) bytes; make sure that
	// computation cannot overflow on 32-bit ints before sizes are derived.
	n := int64(width)*int64(d.header.bytesPerPixel()) + 1
	n *= int64(height)
	if n != int64(int(n)) {
		return wrapError("parse IHDR", fmt.Errorf("%w: dimension overflow", ErrUnsupportedFeature))
	}
	return nil
}

// validatePLTE checks the structural constraints of a palette chunk. The
// entries themselves are not used for the covered color types, where PLTE
// is only a suggested palette.
func validatePLTE(data []byte) error {
	entries := len(data) / 3
	if len(data)%3 != 0 || entries < 1 || entries > 256 {
		return fmt.Errorf("%w: PLTE length %d", ErrInvalidChunk, len(data))
	}
	return nil
}

// assemble runs the inflate and defilter stages over the collected IDAT
// payload and packages the result.
func (d *decoder) assemble() (*Image, error) {
	h := &d.header
	bpp := h.bytesPerPixel()
	if err := d.limits.check(h.width, h.height, bpp); err != nil {
		return nil, wrapError("check limits", err)
	}

	stride := h.width * bpp
	expected := h.height * (1 + stride)

	filtered, warn, err := inflate(d.idat, expected)
	if err != nil {
		return nil, wrapError("inflate image data", err)
	}
	d.idat = nil

	pixels, err := reconstructScanlines(filtered, h.height, stride, bpp)
	if err != nil {
		return nil, wrapError("reconstruct scanlines", err)
	}

	img := &Image{
		Width:     h.width,
		Height:    h.height,
		ColorType: h.colorType,
		BitDepth:  h.bitDepth,
		Pixels:    pixels,
	}
	if warn != nil {
		img.Warnings = append(img.Warnings, warn)
	}
	return img, nil
}
