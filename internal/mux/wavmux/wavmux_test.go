package wavmux

import (
	"bytes"
	"context"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/demux/wavdemux"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

func pcmFmt() riff.WaveFormatEx {
	blockAlign := BlockAlign(2, 16)
	return riff.WaveFormatEx{
		FormatTag:      1, // PCM
		Channels:       2,
		SamplesPerSec:  44100,
		AvgBytesPerSec: uint32(ByteRatePCM(44100, blockAlign)),
		BlockAlign:     uint16(blockAlign),
		BitsPerSample:  16,
	}
}

func TestFinishProducesReadableWAV(t *testing.T) {
	pcm := make([]byte, 4*10)
	for i := range pcm {
		pcm[i] = byte(i + 1)
	}

	w := NewWriter(pcmFmt(), 0)
	w.Write(pcm[:20])
	w.Write(pcm[20:])
	out := w.Finish()

	require.Equal(t, "RIFF", string(out[0:4]))
	require.Equal(t, "WAVE", string(out[8:12]))

	ctx := context.Background()
	rv := bitio.New(bytes.NewReader(out))
	d := wavdemux.New(rv, config.Options{})
	info, err := d.Probe(ctx)
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)

	var got []byte
	err = d.Extract(ctx, 0, func(s sample.Sample) error {
		got = append(got, s.Data...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, pcm, got)
}

func TestFinishPadsOddLengthData(t *testing.T) {
	w := NewWriter(pcmFmt(), 0)
	w.Write([]byte{0x01, 0x02, 0x03}) // odd length
	out := w.Finish()
	require.Equal(t, 0, len(out)%2)
}

func TestMarshalFmtIncludesADPCMSamplesPerBlock(t *testing.T) {
	fmtEx := riff.WaveFormatEx{FormatTag: 0x0011, Channels: 1, SamplesPerSec: 8000, BitsPerSample: 4}
	w := NewWriter(fmtEx, 505)
	marshaled := w.marshalFmt()
	parsed, err := riff.ParseWaveFormatEx(marshaled)
	require.NoError(t, err)
	require.Equal(t, uint16(2), parsed.CbSize)
	require.Len(t, parsed.Extra, 2)
}

func TestByteRateHelpers(t *testing.T) {
	require.Equal(t, 4, BlockAlign(2, 16))
	require.Equal(t, 44100*4, ByteRatePCM(44100, 4))
	require.Equal(t, 0, ByteRateADPCM(8000, 256, 0))
	require.Equal(t, (8000*256)/505, ByteRateADPCM(8000, 256, 505))
}
