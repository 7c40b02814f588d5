package oggmux

import (
	"bytes"
	"context"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/demux/oggdemux"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

func TestLacingTable(t *testing.T) {
	require.Equal(t, []byte{0}, lacingTable(0))
	require.Equal(t, []byte{10}, lacingTable(10))
	require.Equal(t, []byte{255, 0}, lacingTable(255)) // exact multiple gets an explicit trailing zero
	require.Equal(t, []byte{255, 45}, lacingTable(300))
}

func TestNewOpusMuxerSynthesizesHeaderWhenNoCodecPrivate(t *testing.T) {
	_, pages := NewOpusMuxer(12345, nil)
	require.Len(t, pages, 2)
	require.Equal(t, "OggS", string(pages[0][0:4]))
	require.Equal(t, byte(headerTypeBOS), pages[0][5])

	segCount := int(pages[0][26])
	head := pages[0][27+segCount:]
	require.Equal(t, "OpusHead", string(head[0:8]))
}

func TestNewVorbisMuxerSynthesizesWhenEmpty(t *testing.T) {
	m, pages, err := NewVorbisMuxer(999, nil)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Len(t, pages, 2)
	require.Equal(t, byte(headerTypeBOS), pages[0][5])
	require.Equal(t, byte(0), pages[1][5])
}

func TestNewVorbisMuxerRejectsWrongHeaderCount(t *testing.T) {
	_, _, err := NewVorbisMuxer(1, []byte{1}) // claims 2 headers, not 3
	require.Error(t, err)
}

func TestWriteFrameSetsEOSFlagAndAdvancesGranule(t *testing.T) {
	m, _ := NewOpusMuxer(1, nil)
	p1 := m.WriteFrame([]byte("frame-one"), false)
	require.Equal(t, byte(0), p1[5])
	p2 := m.WriteFrame([]byte("frame-two"), true)
	require.Equal(t, byte(headerTypeEOS), p2[5])
	require.NotEqual(t, p1[18:22], p2[18:22]) // sequence advanced
}

func TestPageRoundTripsThroughOggdemux(t *testing.T) {
	m, headers := NewOpusMuxer(42, nil)
	data1 := m.WriteFrame([]byte("opus-frame-payload-1"), false)
	data2 := m.WriteFrame([]byte("opus-frame-payload-2"), true)

	var stream bytes.Buffer
	for _, h := range headers {
		stream.Write(h)
	}
	stream.Write(data1)
	stream.Write(data2)

	ctx := context.Background()
	rv := bitio.New(bytes.NewReader(stream.Bytes()))
	d := oggdemux.New(rv, config.Options{})
	info, err := d.Probe(ctx)
	require.NoError(t, err)
	require.Equal(t, "opus", info.AudioStreams[0].Codec)
	require.Equal(t, 48000, info.AudioStreams[0].SampleRate)

	var out []byte
	err = d.Extract(ctx, 0, func(s sample.Sample) error {
		out = append(out, s.Data...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, stream.Bytes(), out) // OGG source -> OGG output is exact passthrough
}
