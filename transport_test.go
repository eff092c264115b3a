package scopebus

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineWithDeadlineTrimsCRLF(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("hello\r\n")))
	line, err := readLineWithDeadline(r, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
}

func TestReadLineWithDeadlineTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := bufio.NewReader(pr)
	_, err := readLineWithDeadline(r, 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestPollOPCAcceptsOne(t *testing.T) {
	transport := newMockTransport(nil)
	transport.lines = []string{"1"}
	require.NoError(t, pollOPC(transport, time.Second))
}

func TestPollOPCRejectsOtherValues(t *testing.T) {
	transport := newMockTransport(nil)
	transport.lines = []string{"0"}
	err := pollOPC(transport, time.Second)
	assert.True(t, errors.Is(err, ErrBadFormat))
}
