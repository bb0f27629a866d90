package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripSelfDelta(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, nil, nil)
	_, err := enc.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	out, err := Expand(nil, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(out))
}

func TestRoundTripAgainstSource(t *testing.T) {
	source := []byte("the quick brown fox jumps over the lazy dog, repeatedly, the quick brown fox")
	target := []byte("the quick brown fox jumps over the lazy cat, repeatedly, the quick brown fox jumps")

	var buf bytes.Buffer
	enc := NewEncoder(&buf, source, nil)
	_, err := enc.Write(target)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	out, err := Expand(source, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, string(target), string(out))
}

func TestRoundTripEmptyTarget(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, []byte("base"), nil)
	require.NoError(t, enc.Close())

	out, err := Expand([]byte("base"), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestExpandRejectsSourceLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, []byte("base"), nil)
	_, _ = enc.Write([]byte("basefoo"))
	require.NoError(t, enc.Close())

	_, err := Expand([]byte("different-length-source"), bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}
