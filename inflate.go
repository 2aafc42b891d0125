// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package png

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sync"
)

// This file implements the zlib/DEFLATE decompressor for the concatenated
// IDAT payload, as specified in RFC 1950 and RFC 1951. The decompressed
// size of a PNG image stream is known in advance from the image header, so
// the engine writes into a buffer allocated once to its exact final size.

// maxCodeBits is the longest Huffman code DEFLATE permits.
const maxCodeBits = 15

// Literal/length symbols 257-285 carry a base copy length plus extra bits
// (RFC 1951, section 3.2.5).
var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13,
	15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtra = [29]uint{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1,
	1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// Distance symbols 0-29 carry a base distance plus extra bits.
var distBase = [30]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25,
	33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtra = [30]uint{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLengthOrder is the fixed permutation in which the code-length-code
// lengths of a dynamic block are transmitted.
var codeLengthOrder = [19]int{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}

func errInflatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInflate, fmt.Sprintf(format, args...))
}

// huffTable is a canonical Huffman decoding table: the count of codes per
// bit length plus the symbols sorted by (length, symbol value). Together
// these determine every code, so decoding needs no per-symbol structures.
type huffTable struct {
	count  [maxCodeBits + 1]int
	symbol []int
}

// buildHuffTable constructs a decoding table from a code-length sequence,
// assigning codes in order of increasing length and then increasing symbol
// value. Over-subscribed length sets are rejected; incomplete sets build
// successfully and fail at decode time if a dead code is encountered.
func buildHuffTable(lengths []int) (*huffTable, error) {
	h := &huffTable{}
	for _, n := range lengths {
		if n < 0 || n > maxCodeBits {
			return nil, errInflatef("code length %d out of range", n)
		}
		h.count[n]++
	}

	left := 1
	for n := 1; n <= maxCodeBits; n++ {
		left <<= 1
		left -= h.count[n]
		if left < 0 {
			return nil, errInflatef("over-subscribed code lengths")
		}
	}

	var offs [maxCodeBits + 1]int
	for n := 1; n < maxCodeBits; n++ {
		offs[n+1] = offs[n] + h.count[n]
	}

	h.symbol = make([]int, len(lengths)-h.count[0])
	for sym, n := range lengths {
		if n != 0 {
			h.symbol[offs[n]] = sym
			offs[n]++
		}
	}
	return h, nil
}

// Fixed literal/length and distance tables (RFC 1951, section 3.2.6).
// They are immutable once built, so a single shared copy is safe across
// concurrent decode calls.
var (
	fixedOnce sync.Once
	fixedLit  *huffTable
	fixedDist *huffTable
)

func fixedTables() (*huffTable, *huffTable) {
	fixedOnce.Do(func() {
		lit := make([]int, 288)
		for i := range lit {
			switch {
			case i < 144:
				lit[i] = 8
			case i < 256:
				lit[i] = 9
			case i < 280:
				lit[i] = 7
			default:
				lit[i] = 8
			}
		}
		dist := make([]int, 30)
		for i := range dist {
			dist[i] = 5
		}
		fixedLit, _ = buildHuffTable(lit)
		fixedDist, _ = buildHuffTable(dist)
	})
	return fixedLit, fixedDist
}

// inflater holds the state of one decompression pass: a bit-level cursor
// over the compressed bytes and a write cursor into the pre-sized output.
type inflater struct {
	src    []byte
	pos    int
	bitBuf uint32
	bitLen uint

	out []byte
	w   int
}

func (z *inflater) needBits(n uint) error {
	for z.bitLen < n {
		if z.pos >= len(z.src) {
			return errInflatef("unexpected end of compressed stream")
		}
		z.bitBuf |= uint32(z.src[z.pos]) << z.bitLen
		z.pos++
		z.bitLen += 8
	}
	return nil
}

// readBits consumes n bits, least-significant first, as DEFLATE packs them.
func (z *inflater) readBits(n uint) (uint32, error) {
	if err := z.needBits(n); err != nil {
		return 0, err
	}
	v := z.bitBuf & (1<<n - 1)
	z.bitBuf >>= n
	z.bitLen -= n
	return v, nil
}

// alignByte discards the partial byte at the bit cursor. Whole buffered
// bytes stay buffered.
func (z *inflater) alignByte() {
	n := z.bitLen & 7
	z.bitBuf >>= n
	z.bitLen -= n
}

// decodeSymbol reads one Huffman-coded symbol, walking the canonical code
// space one bit at a time: at each length, codes below first+count[length]
// are assigned, anything else continues to the next length.
func (z *inflater) decodeSymbol(h *huffTable) (int, error) {
	code, first, index := 0, 0, 0
	for n := 1; n <= maxCodeBits; n++ {
		b, err := z.readBits(1)
		if err != nil {
			return 0, err
		}
		code |= int(b)
		count := h.count[n]
		if code-first < count {
			return h.symbol[index+code-first], nil
		}
		index += count
		first = (first + count) << 1
		code <<= 1
	}
	return 0, errInflatef("invalid Huffman code")
}

func (z *inflater) emit(b byte) error {
	if z.w >= len(z.out) {
		return fmt.Errorf("%w: inflated data exceeds expected %d bytes", ErrSizeMismatch, len(z.out))
	}
	z.out[z.w] = b
	z.w++
	return nil
}

// storedBlock copies an uncompressed block: byte-align, then LEN and its
// ones'-complement check, then LEN literal bytes.
func (z *inflater) storedBlock() error {
	z.alignByte()
	length, err := z.readBits(16)
	if err != nil {
		return err
	}
	check, err := z.readBits(16)
	if err != nil {
		return err
	}
	if length != ^check&0xffff {
		return errInflatef("stored block LEN %#04x does not match NLEN %#04x", length, check)
	}

	// After the aligned LEN/NLEN reads the bit buffer is empty, so the
	// literal bytes sit directly at the byte cursor.
	n := int(length)
	if z.pos+n > len(z.src) {
		return errInflatef("stored block truncated: need %d bytes, have %d", n, len(z.src)-z.pos)
	}
	if z.w+n > len(z.out) {
		return fmt.Errorf("%w: inflated data exceeds expected %d bytes", ErrSizeMismatch, len(z.out))
	}
	copy(z.out[z.w:], z.src[z.pos:z.pos+n])
	z.pos += n
	z.w += n
	return nil
}

// huffmanBlock runs the literal/length/distance symbol loop of a
// fixed- or dynamic-Huffman block until the end-of-block symbol.
func (z *inflater) huffmanBlock(lit, dist *huffTable) error {
	for {
		sym, err := z.decodeSymbol(lit)
		if err != nil {
			return err
		}

		switch {
		case sym < 256:
			if err := z.emit(byte(sym)); err != nil {
				return err
			}

		case sym == 256:
			return nil

		case sym <= 285:
			length := lengthBase[sym-257]
			if e := lengthExtra[sym-257]; e > 0 {
				extra, err := z.readBits(e)
				if err != nil {
					return err
				}
				length += int(extra)
			}

			dsym, err := z.decodeSymbol(dist)
			if err != nil {
				return err
			}
			if dsym > 29 {
				return errInflatef("invalid distance symbol %d", dsym)
			}
			distance := distBase[dsym]
			if e := distExtra[dsym]; e > 0 {
				extra, err := z.readBits(e)
				if err != nil {
					return err
				}
				distance += int(extra)
			}
			if distance > z.w {
				return errInflatef("back-reference distance %d exceeds %d bytes of output", distance, z.w)
			}
			if z.w+length > len(z.out) {
				return fmt.Errorf("%w: inflated data exceeds expected %d bytes", ErrSizeMismatch, len(z.out))
			}
			// The source and destination may overlap when distance < length;
			// DEFLATE defines the copy to consume bytes as they are produced,
			// so this must stay a byte-at-a-time loop.
			for i := 0; i < length; i++ {
				z.out[z.w] = z.out[z.w-distance]
				z.w++
			}

		default:
			return errInflatef("invalid literal/length symbol %d", sym)
		}
	}
}

// dynamicTables reads the compressed code-length description of a dynamic
// block (RFC 1951, section 3.2.7) and builds its two Huffman tables.
func (z *inflater) dynamicTables() (*huffTable, *huffTable, error) {
	v, err := z.readBits(14)
	if err != nil {
		return nil, nil, err
	}
	hlit := 257 + int(v&0x1f)
	hdist := 1 + int(v>>5&0x1f)
	hclen := 4 + int(v>>10&0x0f)
	if hlit > 286 {
		return nil, nil, errInflatef("HLIT %d exceeds 286", hlit)
	}
	if hdist > 30 {
		return nil, nil, errInflatef("HDIST %d exceeds 30", hdist)
	}

	var clLengths [19]int
	for i := 0; i < hclen; i++ {
		b, err := z.readBits(3)
		if err != nil {
			return nil, nil, err
		}
		clLengths[codeLengthOrder[i]] = int(b)
	}
	clTable, err := buildHuffTable(clLengths[:])
	if err != nil {
		return nil, nil, err
	}

	lengths := make([]int, hlit+hdist)
	for i := 0; i < len(lengths); {
		sym, err := z.decodeSymbol(clTable)
		if err != nil {
			return nil, nil, err
		}

		var repeat, value int
		switch {
		case sym < 16:
			lengths[i] = sym
			i++
			continue
		case sym == 16:
			// Repeat the previous code length 3-6 times.
			if i == 0 {
				return nil, nil, errInflatef("repeat code with no previous length")
			}
			b, err := z.readBits(2)
			if err != nil {
				return nil, nil, err
			}
			repeat, value = 3+int(b), lengths[i-1]
		case sym == 17:
			// 3-10 zero lengths.
			b, err := z.readBits(3)
			if err != nil {
				return nil, nil, err
			}
			repeat = 3 + int(b)
		default: // sym == 18
			// 11-138 zero lengths.
			b, err := z.readBits(7)
			if err != nil {
				return nil, nil, err
			}
			repeat = 11 + int(b)
		}

		if i+repeat > len(lengths) {
			return nil, nil, errInflatef("repeat of %d code lengths exceeds the %d declared", repeat, len(lengths))
		}
		for ; repeat > 0; repeat-- {
			lengths[i] = value
			i++
		}
	}

	if lengths[256] == 0 {
		return nil, nil, errInflatef("missing end-of-block code")
	}

	lit, err := buildHuffTable(lengths[:hlit])
	if err != nil {
		return nil, nil, err
	}
	dist, err := buildHuffTable(lengths[hlit:])
	if err != nil {
		return nil, nil, err
	}
	return lit, dist, nil
}

// verifyAdler compares the big-endian Adler-32 trailer against the checksum
// of the decompressed output. Trailer problems are reported for the caller
// to surface as warnings; they never fail the decode.
func (z *inflater) verifyAdler() error {
	// Whole bytes still sitting in the bit buffer were read past the last
	// DEFLATE block and belong to the trailer.
	pos := z.pos - int(z.bitLen/8)
	if pos+4 > len(z.src) {
		return fmt.Errorf("%w: missing Adler-32 trailer", ErrChecksumMismatch)
	}
	declared := binary.BigEndian.Uint32(z.src[pos:])
	if computed := adler32.Checksum(z.out); computed != declared {
		return fmt.Errorf("%w: declared Adler-32 %#08x, computed %#08x", ErrChecksumMismatch, declared, computed)
	}
	return nil
}

// inflate decompresses a zlib-wrapped DEFLATE stream into a buffer of
// exactly size bytes. A shortfall or excess against size is fatal
// (ErrSizeMismatch); an Adler-32 trailer problem is returned as warn.
func inflate(src []byte, size int) (out []byte, warn error, err error) {
	if len(src) < 2 {
		return nil, nil, errInflatef("zlib header truncated")
	}
	cmf, flg := src[0], src[1]
	if cmf&0x0f != 8 {
		return nil, nil, fmt.Errorf("%w: zlib compression method %d", ErrUnsupportedFeature, cmf&0x0f)
	}
	if (uint(cmf)<<8|uint(flg))%31 != 0 {
		return nil, nil, errInflatef("zlib header check failed")
	}
	if flg&0x20 != 0 {
		return nil, nil, fmt.Errorf("%w: zlib preset dictionary", ErrUnsupportedFeature)
	}

	z := &inflater{src: src, pos: 2, out: make([]byte, size)}
	for {
		final, err := z.readBits(1)
		if err != nil {
			return nil, nil, err
		}
		blockType, err := z.readBits(2)
		if err != nil {
			return nil, nil, err
		}

		switch blockType {
		case 0:
			err = z.storedBlock()
		case 1:
			lit, dist := fixedTables()
			err = z.huffmanBlock(lit, dist)
		case 2:
			var lit, dist *huffTable
			lit, dist, err = z.dynamicTables()
			if err == nil {
				err = z.huffmanBlock(lit, dist)
			}
		default:
			err = errInflatef("reserved block type")
		}
		if err != nil {
			return nil, nil, err
		}

		if final == 1 {
			break
		}
	}

	if z.w != len(z.out) {
		return nil, nil, fmt.Errorf("%w: inflated %d bytes, expected %d", ErrSizeMismatch, z.w, len(z.out))
	}
	return z.out, z.verifyAdler(), nil
}
