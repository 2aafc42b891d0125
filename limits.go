// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package png

import "fmt"

// DecodeLimits bounds the resources a single decode call may commit to.
// The decoder allocates its buffers up front from the dimensions the image
// header declares, so a hostile header could otherwise demand gigabytes
// before a single compressed byte is inspected. A zero field disables that
// limit.
type DecodeLimits struct {
	// MaxWidth is the maximum image width in pixels.
	MaxWidth int

	// MaxHeight is the maximum image height in pixels.
	MaxHeight int

	// MaxPixelBytes is the maximum size of the decoded pixel buffer.
	MaxPixelBytes int64
}

// DefaultDecodeLimits returns the limits Decode applies: 16384x16384
// pixels and a 1 GiB pixel buffer.
func DefaultDecodeLimits() DecodeLimits {
	return DecodeLimits{
		MaxWidth:      16384,
		MaxHeight:     16384,
		MaxPixelBytes: 1 << 30,
	}
}

// check validates header-declared dimensions against the limits before any
// buffer is allocated.
func (l DecodeLimits) check(width, height, bytesPerPixel int) error {
	if l.MaxWidth > 0 && width > l.MaxWidth {
		return fmt.Errorf("%w: width %d exceeds %d", ErrLimitExceeded, width, l.MaxWidth)
	}
	if l.MaxHeight > 0 && height > l.MaxHeight {
		return fmt.Errorf("%w: height %d exceeds %d", ErrLimitExceeded, height, l.MaxHeight)
	}
	if l.MaxPixelBytes > 0 {
		if n := int64(width) * int64(height) * int64(bytesPerPixel); n > l.MaxPixelBytes {
			return fmt.Errorf("%w: pixel buffer of %d bytes exceeds %d", ErrLimitExceeded, n, l.MaxPixelBytes)
		}
	}
	return nil
}
