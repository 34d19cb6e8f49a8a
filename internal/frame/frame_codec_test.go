package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := NewFrame(SEND)
	f.Headers.Set("a", "1")
	f.Headers.Set("b", "2")
	f.Body = "hello"

	decoded, err := Decode(Encode(f))
	require.NoError(t, err)

	assert.Equal(t, SEND, decoded.Command)
	assert.Equal(t, 2, decoded.Headers.Len())
	assert.Equal(t, "1", decoded.Header("a"))
	assert.Equal(t, "2", decoded.Header("b"))
	assert.Equal(t, "hello", decoded.Body)
}

func TestEncodeHeaderOrder(t *testing.T) {
	f := NewFrame(CONNECT)
	f.Headers.Set("accept-version", "1.2")
	f.Headers.Set("login", "meni")
	f.Headers.Set("passcode", "films")

	expected := "CONNECT\naccept-version:1.2\nlogin:meni\npasscode:films\n\n"
	assert.Equal(t, expected, string(Encode(f)))
}

func TestDecodeHeaderValueWithColon(t *testing.T) {
	data := []byte("MESSAGE\ndestination:chat\nnote:a:b:c\n\nbody")
	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "a:b:c", f.Header("note"))
}

func TestDecodeDuplicateHeaderFirstWins(t *testing.T) {
	data := []byte("SEND\ndestination:one\ndestination:two\n\n")
	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "one", f.Header("destination"))
	assert.Equal(t, 1, f.Headers.Len())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty frame", "", ErrEmptyFrame},
		{"no blank line", "SEND\ndestination:chat\n", ErrMissingBlank},
		{"empty command", "\nfoo:bar\n\n", ErrEmptyCommand},
		{"bad header line", "SEND\nnot-a-header\n\n", ErrInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	f, err := Decode([]byte("NACK\nid:7\n\n"))
	require.NoError(t, err)
	assert.False(t, f.Command.Known())
}

func TestDecodeBodyPreserved(t *testing.T) {
	f, err := Decode([]byte("SEND\ndestination:chat\n\nline one\nline two\n"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", f.Body)
}
