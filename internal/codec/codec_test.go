package codec

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	body := []byte(`{"seq":1,"type":"request","command":"initialize"}`)
	require.NoError(t, w.WriteFrame(body))

	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestReadFrameMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	first := []byte(`{"seq":1}`)
	second := []byte(`{"seq":2}`)
	require.NoError(t, w.WriteFrame(first))
	require.NoError(t, w.WriteFrame(second))

	r := bufio.NewReader(&buf)
	got1, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, first, got1)

	got2, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, second, got2)
}

func TestReadFrameCaseInsensitiveHeader(t *testing.T) {
	raw := "content-LENGTH: 12\r\n\r\n{\"seq\":1}   "
	r := bufio.NewReader(strings.NewReader(raw))
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"seq":1}   `), got)
}

func TestReadFrameIgnoresUnknownHeaders(t *testing.T) {
	raw := "Content-Type: application/vscode-dap\r\nContent-Length: 9\r\n\r\n{\"seq\":1}"
	r := bufio.NewReader(strings.NewReader(raw))
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"seq":1}`), got)
}

func TestReadFrameGracefulEOFBetweenMessages(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameMissingContentLength(t *testing.T) {
	raw := "Content-Type: foo\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ReadFrame(r)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestReadFrameMalformedHeader(t *testing.T) {
	raw := "this is not a header\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ReadFrame(r)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestReadFrameInvalidContentLengthValue(t *testing.T) {
	raw := "Content-Length: notanumber\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ReadFrame(r)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestReadFrameContentLengthOutOfRange(t *testing.T) {
	raw := "Content-Length: 999999999999\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ReadFrame(r)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	raw := "Content-Length: 20\r\n\r\n{\"seq\":1}"
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ReadFrame(r)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestReadFrameTruncatedMidHeaders(t *testing.T) {
	raw := "Content-Length: 10"
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ReadFrame(r)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestWriteFrameConcurrentWritersDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			_ = w.WriteFrame([]byte(`{"seq":` + string(rune('0'+n%10)) + `}`))
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	r := bufio.NewReader(&buf)
	count := 0
	for {
		_, err := ReadFrame(r)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 20, count)
}
