package bio

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrTruncated is returned when a read or skip would consume more bytes
// than remain in the stream.
var ErrTruncated = errors.New("bio: truncated stream")

// ErrUnseekable is returned by Seek when the underlying transport does
// not support random access.
var ErrUnseekable = errors.New("bio: stream is not seekable")

// ByteStream is a buffered, big-endian, byte-addressable reader over a
// codestream. Endianness is fixed regardless of host architecture, as
// required by the JPEG 2000 wire format. No partial reads are ever
// surfaced above the primitive boundary: a short read is always reported
// as ErrTruncated.
type ByteStream struct {
	r      io.Reader
	rs     io.ReadSeeker // non-nil when the underlying reader supports Seek
	pos    int64
	size   int64 // -1 if unknown (non-seekable)
	scratch [8]byte
}

// NewByteStream wraps r. If r also implements io.Seeker, Seek/bytesLeft
// report accurate positions; otherwise Seek fails with ErrUnseekable and
// bytesLeft reports -1 (unknown).
func NewByteStream(r io.Reader) *ByteStream {
	bs := &ByteStream{r: r, size: -1}
	if rs, ok := r.(io.ReadSeeker); ok {
		bs.rs = rs
		if end, err := rs.Seek(0, io.SeekEnd); err == nil {
			bs.size = end
			_, _ = rs.Seek(0, io.SeekStart)
		}
	}
	return bs
}

// NewByteStreamFromBytes creates a ByteStream over an in-memory buffer,
// which is always seekable.
func NewByteStreamFromBytes(data []byte) *ByteStream {
	return NewByteStream(newSliceReader(data))
}

// Read reads exactly n bytes, failing with ErrTruncated on a short read.
func (b *ByteStream) Read(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, ErrTruncated
	}
	b.pos += int64(n)
	return buf, nil
}

// ReadU8 reads a single unsigned byte.
func (b *ByteStream) ReadU8() (uint8, error) {
	if _, err := io.ReadFull(b.r, b.scratch[:1]); err != nil {
		return 0, ErrTruncated
	}
	b.pos++
	return b.scratch[0], nil
}

// ReadU16 reads a big-endian uint16.
func (b *ByteStream) ReadU16() (uint16, error) {
	if _, err := io.ReadFull(b.r, b.scratch[:2]); err != nil {
		return 0, ErrTruncated
	}
	b.pos += 2
	return binary.BigEndian.Uint16(b.scratch[:2]), nil
}

// ReadU32 reads a big-endian uint32.
func (b *ByteStream) ReadU32() (uint32, error) {
	if _, err := io.ReadFull(b.r, b.scratch[:4]); err != nil {
		return 0, ErrTruncated
	}
	b.pos += 4
	return binary.BigEndian.Uint32(b.scratch[:4]), nil
}

// Skip advances n bytes without returning them. Skipping past the end of
// the stream is ErrTruncated.
func (b *ByteStream) Skip(n int) error {
	if n <= 0 {
		return nil
	}
	copied, err := io.CopyN(io.Discard, b.r, int64(n))
	b.pos += copied
	if err != nil {
		return ErrTruncated
	}
	return nil
}

// Seek moves to an absolute byte offset. Fails with ErrUnseekable if the
// underlying transport does not support random access.
func (b *ByteStream) Seek(pos int64) error {
	if b.rs == nil {
		return ErrUnseekable
	}
	if _, err := b.rs.Seek(pos, io.SeekStart); err != nil {
		return ErrUnseekable
	}
	b.pos = pos
	return nil
}

// Tell returns the current absolute byte offset.
func (b *ByteStream) Tell() int64 {
	return b.pos
}

// BytesLeft returns the number of bytes remaining, or -1 if the stream
// size is unknown (non-seekable transport).
func (b *ByteStream) BytesLeft() int64 {
	if b.size < 0 {
		return -1
	}
	left := b.size - b.pos
	if left < 0 {
		return 0
	}
	return left
}

// sliceReader adapts a byte slice to io.ReadSeeker.
type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader {
	return &sliceReader{data: data}
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *sliceReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(len(s.data)) + offset
	default:
		return 0, errors.New("bio: invalid whence")
	}
	if newPos < 0 {
		return 0, errors.New("bio: negative position")
	}
	s.pos = int(newPos)
	return newPos, nil
}
