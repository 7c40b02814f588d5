package bitio

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservoirEnsureAdvanceForward(t *testing.T) {
	data := []byte("hello, reservoir world")
	rv := New(bytes.NewReader(data))
	ctx := context.Background()

	ok, err := rv.Ensure(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(rv.Peek(5)))

	rv.Advance(5)
	require.Equal(t, int64(5), rv.Total())

	rest := rv.Take(2)
	require.Equal(t, ", ", string(rest))
	require.Equal(t, int64(7), rv.Total())
}

func TestReservoirEnsureFalseAtShortEOF(t *testing.T) {
	rv := New(bytes.NewReader([]byte("abc")))
	ok, err := rv.Ensure(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReservoirSkip(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 100000)
	rv := New(bytes.NewReader(data))
	n, err := rv.Skip(context.Background(), 99999)
	require.NoError(t, err)
	require.Equal(t, int64(99999), n)
	require.Equal(t, int64(99999), rv.Total())

	b, err := ReadU8(context.Background(), rv, "test")
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), b)
}

func TestReadVIntStripsMarker(t *testing.T) {
	// EBML size VINT: 0x42 0x02 => width 2, marker bit 0x40, value = 0x202
	rv := New(bytes.NewReader([]byte{0x42, 0x02}))
	v, width, unknown, err := ReadVInt(context.Background(), rv, "test", false)
	require.NoError(t, err)
	require.Equal(t, 2, width)
	require.False(t, unknown)
	require.Equal(t, uint64(0x202), v)
}

func TestReadVIntUnknownSize(t *testing.T) {
	// 1-byte VINT 0xFF = unknown size marker (all data bits set).
	rv := New(bytes.NewReader([]byte{0xFF}))
	_, width, unknown, err := ReadVInt(context.Background(), rv, "test", false)
	require.NoError(t, err)
	require.Equal(t, 1, width)
	require.True(t, unknown)
}

func TestReadFourCCAndGUID(t *testing.T) {
	data := append([]byte("ftyp"), bytes.Repeat([]byte{0x01}, 16)...)
	rv := New(bytes.NewReader(data))
	fcc, err := ReadFourCC(context.Background(), rv, "test")
	require.NoError(t, err)
	require.Equal(t, "ftyp", fcc)

	guid, err := ReadGUID(context.Background(), rv, "test")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x01}, 16), guid[:])
}
