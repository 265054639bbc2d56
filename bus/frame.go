// Package bus carries the IPC half of the connection surface over
// D-Bus: an endpoint exporting a local connection at an object path,
// and a client connection driving a remote peer. Large result sets
// stream over a pipe file descriptor with a simple length-prefixed
// framing; small control traffic rides the message bus.
package bus

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Row framing, per cursor row:
//
//	[u32 n_columns][u32 off_1]…[u32 off_n][bytes]
//
// Values are NUL-terminated within the byte block; off_i is the offset
// one past value i's terminating NUL, so offsets are both boundaries
// and cumulative lengths. End-of-stream is the writer closing the pipe.
// Unbound cells carry the empty value.

// frameWriter encodes rows onto a stream.
type frameWriter struct {
	w *bufio.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: bufio.NewWriter(w)}
}

func (fw *frameWriter) writeRow(values []string) error {
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(values)))
	if _, err := fw.w.Write(head[:]); err != nil {
		return err
	}
	off := uint32(0)
	for _, v := range values {
		off += uint32(len(v)) + 1 // value + NUL
		binary.LittleEndian.PutUint32(head[:], off)
		if _, err := fw.w.Write(head[:]); err != nil {
			return err
		}
	}
	for _, v := range values {
		if _, err := fw.w.WriteString(v); err != nil {
			return err
		}
		if err := fw.w.WriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

func (fw *frameWriter) flush() error { return fw.w.Flush() }

// frameReader decodes rows from a stream.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// readRow returns the next row's values, or io.EOF at end of stream.
func (fr *frameReader) readRow() ([]string, error) {
	var head [4]byte
	if _, err := io.ReadFull(fr.r, head[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(head[:])
	if n > 1<<16 {
		return nil, fmt.Errorf("implausible column count %d", n)
	}
	offsets := make([]uint32, n)
	for i := range offsets {
		if _, err := io.ReadFull(fr.r, head[:]); err != nil {
			return nil, err
		}
		offsets[i] = binary.LittleEndian.Uint32(head[:])
	}
	if n == 0 {
		return nil, nil
	}
	total := offsets[n-1]
	data := make([]byte, total)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		return nil, err
	}
	values := make([]string, n)
	start := uint32(0)
	for i, end := range offsets {
		if end < start+1 || end > total {
			return nil, fmt.Errorf("corrupt row framing")
		}
		values[i] = string(data[start : end-1]) // strip NUL
		start = end
	}
	return values, nil
}
