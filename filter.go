// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package png

import "fmt"

// Scanline filter types, as per the PNG spec.
const (
	filterNone    = 0
	filterSub     = 1
	filterUp      = 2
	filterAverage = 3
	filterPaeth   = 4
)

// reconstructScanlines applies the inverse per-scanline filter to the
// inflated buffer, producing the final pixel bytes. The input holds height
// rows of 1+stride bytes, each led by its filter-type byte; the output
// holds height rows of stride bytes. All arithmetic is modulo 256 and the
// stage is purely byte-level: bpp is the pixel stride in bytes, nothing
// more is known about color here.
func reconstructScanlines(filtered []byte, height, stride, bpp int) ([]byte, error) {
	pixels := make([]byte, height*stride)

	var prev []byte
	for y := 0; y < height; y++ {
		rowStart := y * (1 + stride)
		ft := filtered[rowStart]
		cur := pixels[y*stride : (y+1)*stride]
		copy(cur, filtered[rowStart+1:rowStart+1+stride])

		switch ft {
		case filterNone:
			// No-op.

		case filterSub:
			for i := bpp; i < stride; i++ {
				cur[i] += cur[i-bpp]
			}

		case filterUp:
			if prev != nil {
				for i, p := range prev {
					cur[i] += p
				}
			}

		case filterAverage:
			if prev == nil {
				// The row above a first row is all zero.
				for i := bpp; i < stride; i++ {
					cur[i] += cur[i-bpp] / 2
				}
			} else {
				for i := 0; i < bpp; i++ {
					cur[i] += prev[i] / 2
				}
				for i := bpp; i < stride; i++ {
					cur[i] += byte((int(cur[i-bpp]) + int(prev[i])) / 2)
				}
			}

		case filterPaeth:
			if prev == nil {
				// paeth(a, 0, 0) is always a.
				for i := bpp; i < stride; i++ {
					cur[i] += cur[i-bpp]
				}
			} else {
				// paeth(0, b, 0) is always b.
				for i := 0; i < bpp; i++ {
					cur[i] += prev[i]
				}
				for i := bpp; i < stride; i++ {
					cur[i] += paethPredictor(cur[i-bpp], prev[i], prev[i-bpp])
				}
			}

		default:
			return nil, fmt.Errorf("%w: %d on row %d", ErrInvalidFilterType, ft, y)
		}

		prev = cur
	}
	return pixels, nil
}

// paethPredictor picks whichever of a (left), b (above), c (above-left) is
// nearest to a+b-c, ties broken in the order a, b, c.
func paethPredictor(a, b, c byte) byte {
	// |p-a| = |b-c|, |p-b| = |a-c|, |p-c| = |a+b-2c| with p = a+b-c.
	pa := absInt(int(b) - int(c))
	pb := absInt(int(a) - int(c))
	pc := absInt(int(a) + int(b) - 2*int(c))

	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
