package asfmux

import (
	"bytes"
	"context"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/asf"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTripsThroughDemuxer(t *testing.T) {
	fmtEx := riff.WaveFormatEx{
		FormatTag:      0x0161, // wmav2
		Channels:       2,
		SamplesPerSec:  44100,
		AvgBytesPerSec: 16000,
		BlockAlign:     1024,
		BitsPerSample:  16,
	}

	w := NewWriter(1, fmtEx, 50_000_000, 50_000_000, 0, 128000, nil)
	// Realistic WMA frames are near-constant size for a given bitrate;
	// keep the swing small so the fixed-packet padding byte never
	// overflows (padding length is a single BYTE field).
	frames := [][]byte{
		bytes.Repeat([]byte{0xAA}, 300),
		bytes.Repeat([]byte{0xBB}, 298),
		bytes.Repeat([]byte{0xCC}, 302),
	}
	for i, f := range frames {
		w.WritePayload(sample.Sample{
			Data: f,
			ASF: &sample.ASFExtra{
				MediaObjectNumber: uint32(i),
				PacketSendTimeMS:  uint32(i * 20),
				PacketDurationMS:  20,
			},
		})
	}

	out, err := w.Finish()
	require.NoError(t, err)

	rv := bitio.New(bytes.NewReader(out))
	require.True(t, asf.Detect(out))
	d := asf.New(rv, config.Options{})

	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, "wmav2", info.AudioStreams[0].Codec)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
	require.NotNil(t, info.FileProperties)
	require.Equal(t, uint32(128000), info.FileProperties.MaxBitrate)

	var got [][]byte
	err = d.Extract(context.Background(), 1, func(s sample.Sample) error {
		got = append(got, append([]byte(nil), s.Data...))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, frames, got)
}

func TestPacketSizeRoundsUpTo256(t *testing.T) {
	w := &Writer{maxFrame: 10}
	ps := w.packetSize()
	require.Equal(t, int64(0), ps%256)
	require.GreaterOrEqual(t, ps, int64(10+payloadOverhead))
	require.Less(t, ps-int64(10+payloadOverhead), int64(256))
}

func TestBuildPacketRejectsOversizedPayload(t *testing.T) {
	w := &Writer{maxFrame: 10}
	_, err := w.buildPacket(payload{data: make([]byte, 10000)}, 256)
	require.Error(t, err)
}
