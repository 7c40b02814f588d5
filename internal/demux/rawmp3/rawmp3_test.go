package rawmp3

import (
	"bytes"
	"context"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

// mp3Frame builds one MPEG1 Layer III frame at 128kbps/44100Hz/stereo,
// filling the payload past the 4-byte header with fill so frames are
// distinguishable in a test assertion.
func mp3Frame(fill byte) []byte {
	const frameLen = 417 // 144*128000/44100, truncated
	b := make([]byte, frameLen)
	b[0] = 0xFF
	b[1] = 0xFB // MPEG1, layer III, protection absent
	b[2] = 0x90 // bitrate index 9 (128kbps), sample-rate index 0 (44100), no padding
	b[3] = 0x00 // stereo, no extras
	for i := 4; i < frameLen; i++ {
		b[i] = fill
	}
	return b
}

func TestDetect(t *testing.T) {
	require.True(t, Detect(mp3Frame(0xAA)[:4]))
	require.False(t, Detect([]byte{0x00, 0x00, 0x00, 0x00}))
}

func TestProbeAndExtractPassthrough(t *testing.T) {
	f1 := mp3Frame(0x11)
	f2 := mp3Frame(0x22)
	data := append(append([]byte{}, f1...), f2...)

	ctx := context.Background()
	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})

	info, err := d.Probe(ctx)
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, "mp3", info.AudioStreams[0].Codec)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)
	require.Equal(t, int64(128000), info.AudioStreams[0].Bitrate)

	var frames [][]byte
	err = d.Extract(ctx, 0, func(s sample.Sample) error {
		frames = append(frames, append([]byte(nil), s.Data...))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{f1, f2}, frames)
}

func TestExtractRejectsUnknownTrack(t *testing.T) {
	rv := bitio.New(bytes.NewReader(mp3Frame(0x00)))
	d := New(rv, config.Options{})
	_, err := d.Probe(context.Background())
	require.NoError(t, err)
	err = d.Extract(context.Background(), 1, func(sample.Sample) error { return nil })
	require.Error(t, err)
}

func TestProbeFailsOnReservedVersion(t *testing.T) {
	b := mp3Frame(0x00)
	b[1] = 0xE9 // versionBits=01 (reserved)
	rv := bitio.New(bytes.NewReader(b))
	d := New(rv, config.Options{})
	_, err := d.Probe(context.Background())
	require.Error(t, err)
}
