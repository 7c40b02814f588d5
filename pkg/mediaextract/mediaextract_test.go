package mediaextract

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"testing"

	"github.com/jmylchreest/media-extract/internal/mediaerr"
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

func TestProbeReportsSourceStream(t *testing.T) {
	pcm := make([]byte, 4*100)
	wav := buildWAV(t, pcm)

	info, err := Probe(context.Background(), bytes.NewReader(wav))
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, "pcm_s16le", info.AudioStreams[0].Codec)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
}

func TestExtractAudioRebuildsWAVHeader(t *testing.T) {
	pcm := make([]byte, 4*100)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav := buildWAV(t, pcm)

	var out bytes.Buffer
	err := ExtractAudio(context.Background(), bytes.NewReader(wav), &out)
	require.NoError(t, err)

	// The extractor's output must itself be probeable (spec §8 invariant 2).
	info, err := Probe(context.Background(), bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, "pcm_s16le", info.AudioStreams[0].Codec)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)
}

func TestExtractAudioWithStreamIndexNotFound(t *testing.T) {
	wav := buildWAV(t, make([]byte, 16))

	var out bytes.Buffer
	err := ExtractAudio(context.Background(), bytes.NewReader(wav), &out, WithStreamIndex(3))
	require.Error(t, err)
	require.True(t, mediaerr.Is(err, mediaerr.KindNotFound))
}

func TestExtractAudioWithTrackIDNotFound(t *testing.T) {
	wav := buildWAV(t, make([]byte, 16))

	var out bytes.Buffer
	err := ExtractAudio(context.Background(), bytes.NewReader(wav), &out, WithTrackID(99))
	require.Error(t, err)
	require.True(t, mediaerr.Is(err, mediaerr.KindNotFound))
}

func TestExtractAudioReportsProgressCompletion(t *testing.T) {
	pcm := make([]byte, 4*1000)
	wav := buildWAV(t, pcm)

	var percents []int
	err := ExtractAudio(context.Background(), bytes.NewReader(wav), &bytes.Buffer{}, WithOnProgress(func(p int) {
		percents = append(percents, p)
	}))
	require.NoError(t, err)
	require.NotEmpty(t, percents)
	require.Equal(t, 100, percents[len(percents)-1])
}

func TestExtractAudioFromFileToFile(t *testing.T) {
	pcm := make([]byte, 4*50)
	wav := buildWAV(t, pcm)

	dir := t.TempDir()
	inPath := dir + "/in.wav"
	outPath := dir + "/out.wav"
	require.NoError(t, os.WriteFile(inPath, wav, 0o644))

	err := ExtractAudioFromFileToFile(context.Background(), inPath, outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	info, err := Probe(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, "pcm_s16le", info.AudioStreams[0].Codec)
}
