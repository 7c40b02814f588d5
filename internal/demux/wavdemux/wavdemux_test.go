package wavdemux

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

func buildWAV(t *testing.T, pcm []byte) []byte {
	t.Helper()
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtChunk[2:4], 2) // stereo
	binary.LittleEndian.PutUint32(fmtChunk[4:8], 44100)
	binary.LittleEndian.PutUint32(fmtChunk[8:12], 44100*4)
	binary.LittleEndian.PutUint16(fmtChunk[12:14], 4)
	binary.LittleEndian.PutUint16(fmtChunk[14:16], 16)

	var buf []byte
	buf = append(buf, []byte("RIFF")...)
	buf = append(buf, make([]byte, 4)...) // size filled below
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	sz := make([]byte, 4)
	binary.LittleEndian.PutUint32(sz, uint32(len(fmtChunk)))
	buf = append(buf, sz...)
	buf = append(buf, fmtChunk...)
	buf = append(buf, []byte("data")...)
	binary.LittleEndian.PutUint32(sz, uint32(len(pcm)))
	buf = append(buf, sz...)
	buf = append(buf, pcm...)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	return buf
}

func TestWAVProbeAndExtract(t *testing.T) {
	pcm := make([]byte, 4*100)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav := buildWAV(t, pcm)

	ctx := context.Background()
	rv := bitio.New(bytes.NewReader(wav))
	d := New(rv, config.Options{})

	info, err := d.Probe(ctx)
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, "pcm_s16le", info.AudioStreams[0].Codec)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)

	var out []byte
	err = d.Extract(ctx, 0, func(s sample.Sample) error {
		out = append(out, s.Data...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, pcm, out)
}

func TestWAVExtractRejectsUnknownTrack(t *testing.T) {
	wav := buildWAV(t, make([]byte, 16))
	rv := bitio.New(bytes.NewReader(wav))
	d := New(rv, config.Options{})
	_, err := d.Probe(context.Background())
	require.NoError(t, err)
	err = d.Extract(context.Background(), 1, func(sample.Sample) error { return nil })
	require.Error(t, err)
}
