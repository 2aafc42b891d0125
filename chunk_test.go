package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math/rand"
	"testing"
)

// writeChunk appends a well-formed chunk (length, tag, payload, CRC) to buf.
func writeChunk(buf *bytes.Buffer, tag string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], tag)
	buf.Write(hdr[:])
	buf.Write(data)

	crc := crc32.Update(0, crc32.IEEETable, hdr[4:])
	crc = crc32.Update(crc, crc32.IEEETable, data)
	var tr [4]byte
	binary.BigEndian.PutUint32(tr[:], crc)
	buf.Write(tr[:])
}

func TestChunkReaderSequence(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "IHDR", make([]byte, 13))
	writeChunk(&buf, "gAMA", []byte{0, 1, 0x86, 0xa0})
	writeChunk(&buf, "IDAT", []byte{1, 2, 3})
	writeChunk(&buf, "IEND", nil)

	cr := newChunkReader(&buf)
	want := []struct {
		kind chunkKind
		tag  string
		size int
	}{
		{kindIHDR, "IHDR", 13},
		{kindAncillary, "gAMA", 4},
		{kindIDAT, "IDAT", 3},
		{kindIEND, "IEND", 0},
	}

	for i, w := range want {
		c, err := cr.next()
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if c.kind != w.kind {
			t.Errorf("chunk %d: kind = %v, want %v", i, c.kind, w.kind)
		}
		if c.tagString() != w.tag {
			t.Errorf("chunk %d: tag = %q, want %q", i, c.tagString(), w.tag)
		}
		if len(c.data) != w.size {
			t.Errorf("chunk %d: %d payload bytes, want %d", i, len(c.data), w.size)
		}
	}
}

func TestChunkReaderCRCMismatch(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "IDAT", []byte{1, 2, 3, 4})
	raw := buf.Bytes()
	raw[8+2] ^= 0x01 // flip a payload bit; stored CRC no longer matches

	cr := newChunkReader(bytes.NewReader(raw))
	_, err := cr.next()
	if !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestChunkReaderUnknownCritical(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "ABCD", []byte{1})

	cr := newChunkReader(&buf)
	_, err := cr.next()
	if !errors.Is(err, ErrUnsupportedCriticalChunk) {
		t.Errorf("expected ErrUnsupportedCriticalChunk, got %v", err)
	}
}

func TestChunkReaderUnknownAncillary(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "tEXt", []byte("Comment\x00hi"))

	cr := newChunkReader(&buf)
	c, err := cr.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if c.kind != kindAncillary {
		t.Errorf("kind = %v, want kindAncillary", c.kind)
	}
}

func TestChunkReaderBadTag(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "ID\x01T", nil)

	cr := newChunkReader(&buf)
	_, err := cr.next()
	if !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("expected ErrInvalidChunk for non-letter tag byte, got %v", err)
	}
}

func TestChunkReaderLengthTooLarge(t *testing.T) {
	var raw [8]byte
	binary.BigEndian.PutUint32(raw[:4], 0x80000000)
	copy(raw[4:], "IDAT")

	cr := newChunkReader(bytes.NewReader(raw[:]))
	_, err := cr.next()
	if !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("expected ErrInvalidChunk for oversized length, got %v", err)
	}
}

// A hostile header may declare a near-2 GiB payload; the reader must fail
// on the missing bytes without committing the declared size up front.
func TestChunkReaderHugeDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], 1<<30)
	copy(hdr[4:], "IDAT")
	buf.Write(hdr[:])
	buf.Write(make([]byte, 100))

	cr := newChunkReader(&buf)
	_, err := cr.next()
	if !errors.Is(err, ErrTruncatedStream) {
		t.Errorf("expected ErrTruncatedStream, got %v", err)
	}
}

// Payloads larger than one read piece must arrive intact.
func TestChunkReaderLargePayload(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	payload := randBytes(rng, payloadPiece*2+12345)
	var buf bytes.Buffer
	writeChunk(&buf, "IDAT", payload)

	cr := newChunkReader(&buf)
	c, err := cr.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(c.data, payload) {
		t.Errorf("payload differs after piecewise read")
	}
}

// Truncation anywhere inside a chunk maps to ErrTruncatedStream.
func TestChunkReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "IDAT", []byte{1, 2, 3, 4, 5})
	raw := buf.Bytes()

	for i := 0; i < len(raw); i++ {
		cr := newChunkReader(bytes.NewReader(raw[:i]))
		_, err := cr.next()
		if !errors.Is(err, ErrTruncatedStream) {
			t.Errorf("truncation at %d: got %v, want ErrTruncatedStream", i, err)
		}
	}
}

// Chunk offsets in errors count from the start of the stream, signature
// included.
func TestChunkReaderOffset(t *testing.T) {
	var buf bytes.Buffer
	writeChunk(&buf, "IHDR", make([]byte, 13))
	writeChunk(&buf, "IDAT", []byte{9, 9})
	raw := buf.Bytes()
	raw[25+8+1] ^= 0x01 // corrupt the second chunk's payload

	cr := newChunkReader(bytes.NewReader(raw))
	if _, err := cr.next(); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	_, err := cr.next()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if de.Offset != 8+25 {
		t.Errorf("offset = %d, want %d", de.Offset, 8+25)
	}
}
