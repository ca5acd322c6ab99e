package records_test

import (
	"bytes"
	"io"
)

func bytesReader(n int) io.ReaderAt {
	return bytes.NewReader(bytes.Repeat([]byte{'x'}, n))
}
