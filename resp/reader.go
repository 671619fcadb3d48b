package resp

import (
	"io"

	"github.com/pkg/errors"
)

// defaultReadChunk is sized for typical command/reply framing; large
// bulk strings simply cause a few extra reads to fill the buffer
// rather than a single oversized one.
const defaultReadChunk = 4096

// FrameReader pulls bytes from an io.Reader and yields one decoded
// Value per call to Next, implementing the buffer half of the
// Decode contract: it owns the accumulation buffer and the read
// cursor, feeding Decode and only ever discarding bytes on success.
type FrameReader struct {
	r   io.Reader
	buf []byte
}

// NewFrameReader wraps r. r is read in defaultReadChunk-sized bursts;
// callers that already have a *bufio.Reader may pass it directly,
// since io.Reader is all FrameReader requires.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next blocks until a full frame is available or the underlying
// reader fails. A read error (including io.EOF, returned whether the
// peer closed between frames or mid-frame) is returned unwrapped so
// callers can distinguish it from a FramingError.
func (f *FrameReader) Next() (Value, error) {
	for {
		v, n, err := Decode(f.buf)
		if err == nil {
			f.buf = f.buf[n:]
			return v, nil
		}
		if !errors.Is(err, ErrNeedMoreData) {
			return Value{}, err
		}

		chunk := make([]byte, defaultReadChunk)
		n2, rerr := f.r.Read(chunk)
		if n2 > 0 {
			f.buf = append(f.buf, chunk[:n2]...)
		}
		if rerr != nil {
			return Value{}, rerr
		}
	}
}
