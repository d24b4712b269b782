// Package bzstream decompresses exactly one bz2 stream out of a multistream
// archive, starting at a caller-supplied byte offset and stopping at that
// stream's natural end.
package bzstream

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// Open returns a reader over the decompressed contents of the bz2 stream
// that starts at off within r. Decompression stops at the stream's own end
// marker; any bytes belonging to a following stream are left unread — bz2
// streams are self-delimiting, so the reader never needs to know where the
// stream ends ahead of time.
//
// size bounds how much of the underlying file the section reader is allowed
// to see; pass the remaining file length (or a generous upper bound such as
// the largest expected compressed block size) when the true end of the
// stream segment isn't known up front.
func Open(r io.ReaderAt, off int64, size int64) (io.ReadCloser, error) {
	if off < 0 {
		return nil, fmt.Errorf("bzstream: negative offset %d", off)
	}
	section := io.NewSectionReader(r, off, size)
	reader, err := bzip2.NewReader(section, nil)
	if err != nil {
		return nil, fmt.Errorf("bzstream: open stream at offset %d: %w", off, err)
	}
	return reader, nil
}

// ReadAll decompresses the whole stream starting at off and returns its
// bytes. It is the common case: block bodies are small (a few dozen
// articles) and are handed to the block cache as one immutable []byte.
func ReadAll(r io.ReaderAt, off int64, maxSize int64) ([]byte, error) {
	stream, err := Open(r, off, maxSize)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}
