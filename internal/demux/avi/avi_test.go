package avi

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

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func chunk(id string, body []byte) []byte {
	var out bytes.Buffer
	out.WriteString(id)
	out.Write(le32(uint32(len(body))))
	out.Write(body)
	if len(body)%2 == 1 {
		out.WriteByte(0)
	}
	return out.Bytes()
}

func list(listType string, body []byte) []byte {
	return chunk("LIST", append([]byte(listType), body...))
}

// buildAVI constructs a minimal single-audio-stream AVI: hdrl (avih +
// one strl with strh/strf for a PCM stream), movi with two "00wb"
// chunks.
func buildAVI(t *testing.T, frame1, frame2 []byte) []byte {
	t.Helper()

	avih := chunk("avih", make([]byte, 56))

	strh := make([]byte, 28)
	copy(strh[0:4], "auds")
	copy(strh[4:8], "\x00\x00\x00\x00")
	binary.LittleEndian.PutUint32(strh[20:24], 1) // dwScale
	binary.LittleEndian.PutUint32(strh[24:28], 44100) // dwRate

	fmtEx := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtEx[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtEx[2:4], 2) // channels
	binary.LittleEndian.PutUint32(fmtEx[4:8], 44100)
	binary.LittleEndian.PutUint32(fmtEx[8:12], 44100*4)
	binary.LittleEndian.PutUint16(fmtEx[12:14], 4)
	binary.LittleEndian.PutUint16(fmtEx[14:16], 16)

	strl := list("strl", append(chunk("strh", strh), chunk("strf", fmtEx)...))
	hdrl := list("hdrl", append(avih, strl...))

	movi := list("movi", append(chunk("00wb", frame1), chunk("00wb", frame2)...))

	riffBody := append(append([]byte("AVI "), hdrl...), movi...)
	return chunk("RIFF", riffBody)
}

func TestAVIProbeAndExtractAudioStream(t *testing.T) {
	f1 := []byte("FRAME-ONE-01")
	f2 := []byte("FRAME-TWO-02")
	data := buildAVI(t, f1, f2)
	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})

	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, 0, info.AudioStreams[0].ID)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)

	var frames [][]byte
	err = d.Extract(context.Background(), 0, func(s sample.Sample) error {
		frames = append(frames, append([]byte(nil), s.Data...))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{f1, f2}, frames)
}

func TestAVIDetect(t *testing.T) {
	require.True(t, Detect([]byte("RIFF\x00\x00\x00\x00AVI \x00\x00")))
	require.False(t, Detect([]byte("RIFF\x00\x00\x00\x00WAVE")))
}

func TestStreamChunkMatches(t *testing.T) {
	require.True(t, streamChunkMatches("00wb", 0))
	require.True(t, streamChunkMatches("01dc", 1))
	require.False(t, streamChunkMatches("00wb", 1))
}
