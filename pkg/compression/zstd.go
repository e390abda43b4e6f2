package compression

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"bucketdb/pkg/dberrors"
)

// Encoding names a stream encoding accepted by the dump endpoint.
type Encoding string

const (
	Identity Encoding = ""
	Zstd     Encoding = "zstd"
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case Identity, "identity", "none":
		return Identity, nil
	case Zstd:
		return Zstd, nil
	default:
		return Identity, fmt.Errorf("%w: unknown encoding %q", dberrors.ErrInvalidArgument, s)
	}
}

// Writer encodes everything written to it onto an underlying writer and
// counts the bytes that reached it.
type Writer struct {
	counter *byteCounter
	enc     io.WriteCloser
}

type byteCounter struct {
	w     io.Writer
	count int64
}

func (bc *byteCounter) Write(p []byte) (int, error) {
	n, err := bc.w.Write(p)
	bc.count += int64(n)
	return n, err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewWriter wraps w. Close flushes the encoder but leaves w open.
func NewWriter(w io.Writer, e Encoding) (*Writer, error) {
	counter := &byteCounter{w: w}
	switch e {
	case Identity:
		return &Writer{counter: counter, enc: nopCloser{counter}}, nil
	case Zstd:
		enc, err := zstd.NewWriter(counter, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return &Writer{counter: counter, enc: enc}, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", dberrors.ErrInvalidArgument, e)
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

func (w *Writer) Close() error {
	return w.enc.Close()
}

// Written reports how many encoded bytes were passed to the underlying writer.
func (w *Writer) Written() int64 {
	return w.counter.count
}

// DecompressZstd decompresses zstd data
func DecompressZstd(r io.Reader, w io.Writer) (int64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	return io.Copy(w, dec)
}
