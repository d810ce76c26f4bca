package progress

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsEveryIntervalAndAtEOF(t *testing.T) {
	var reports []int64

	src := strings.NewReader(strings.Repeat("x", 25))
	pr := NewReader(src, 25, 10, func(read, total int64) {
		assert.Equal(t, int64(25), total)
		reports = append(reports, read)
	})

	buf := make([]byte, 5)
	for {
		_, err := pr.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{10, 20, 25}, reports)
}

func TestReader_NoDuplicateFinalReport(t *testing.T) {
	calls := 0

	pr := NewReader(iotest.OneByteReader(strings.NewReader(strings.Repeat("x", 20))), 0, 10, func(read, total int64) {
		calls++
	})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestReader_NilCallback(t *testing.T) {
	pr := NewReader(strings.NewReader("abc"), 3, 1, nil)

	n, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
