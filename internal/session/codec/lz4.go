package codec

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4 is a compression layer grounded on the streaming lz4.Writer/Reader
// usage seen across the example pack's archive tooling.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Wrap(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4) Unwrap(in []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(in))
	return io.ReadAll(r)
}
