package mp4

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

func box(typ string, body []byte) []byte {
	var out bytes.Buffer
	sz := make([]byte, 4)
	binary.BigEndian.PutUint32(sz, uint32(8+len(body)))
	out.Write(sz)
	out.WriteString(typ)
	out.Write(body)
	return out.Bytes()
}

func fullBox(typ string, version uint8, flags uint32, payload []byte) []byte {
	body := make([]byte, 4+len(payload))
	body[0] = version
	body[1] = byte(flags >> 16)
	body[2] = byte(flags >> 8)
	body[3] = byte(flags)
	copy(body[4:], payload)
	return box(typ, body)
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// buildMinimalMP4 constructs ftyp+moov(one audio trak, 2 samples)+mdat
// with two 10-byte samples.
func buildMinimalMP4(t *testing.T) ([]byte, int64, int64) {
	ftyp := box("ftyp", append([]byte("isom"), 0, 0, 0, 0))

	tkhd := fullBox("tkhd", 0, 0, append(
		append(append([]byte{}, be32(0)...), be32(0)...), // creation, modification
		append(be32(1), make([]byte, 64-12)...)...,       // track_id=1, then padding to dims (not exact but unused here)
	))

	mdhdPayload := append(append(be32(0), be32(0)...), append(be32(44100), be32(2)...)...) // creation,mod,timescale,duration
	mdhdPayload = append(mdhdPayload, 0, 0) // language + pre_defined
	mdhd := fullBox("mdhd", 0, 0, mdhdPayload)

	hdlr := fullBox("hdlr", 0, 0, append(append(be32(0), []byte("soun")...), make([]byte, 12+1)...))

	stszPayload := append(append(be32(0), be32(2)...), append(be32(10), be32(10)...)...)
	stsz := fullBox("stsz", 0, 0, stszPayload)

	sttsPayload := append(be32(1), append(be32(2), be32(1)...)...)
	stts := fullBox("stts", 0, 0, sttsPayload)

	stscPayload := append(be32(1), append(be32(1), append(be32(2), be32(1)...)...)...)
	stsc := fullBox("stsc", 0, 0, stscPayload)

	mdatHeaderLen := int64(8)
	ftypLen := int64(len(ftyp))
	// mdat sits right after moov; we compute moov length below iteratively,
	// so lay mdat at a placeholder and patch stco after sizing moov.
	sampleData := []byte("0123456789ABCDEFGHIJ") // 20 bytes = two 10-byte samples
	mdat := box("mdat", sampleData)

	mp4aPayload := make([]byte, 28)
	binary.BigEndian.PutUint16(mp4aPayload[16:18], 1) // channel count
	binary.BigEndian.PutUint32(mp4aPayload[24:28], 44100<<16)
	mp4a := box("mp4a", mp4aPayload)
	stsdPayload := append(be32(1), mp4a...)
	stsd := fullBox("stsd", 0, 0, stsdPayload)

	// stco offset depends on total prefix length; compute in two passes.
	stcoPlaceholder := fullBox("stco", 0, 0, append(be32(1), be32(0)...))
	stbl := box("stbl", append(append(append(stsd, stsz...), stts...), append(stsc, stcoPlaceholder...)...))
	minf := box("minf", stbl)
	mdia := box("mdia", append(append(mdhd, hdlr...), minf...))
	trak := box("trak", append(tkhd, mdia...))
	moov := box("moov", trak)

	total := ftypLen + int64(len(moov)) + mdatHeaderLen
	stco := fullBox("stco", 0, 0, append(be32(1), be32(uint32(total))...))
	stbl = box("stbl", append(append(append(stsd, stsz...), stts...), append(stsc, stco...)...))
	minf = box("minf", stbl)
	mdia = box("mdia", append(append(mdhd, hdlr...), minf...))
	trak = box("trak", append(tkhd, mdia...))
	moov = box("moov", trak)

	var full bytes.Buffer
	full.Write(ftyp)
	full.Write(moov)
	full.Write(mdat)
	return full.Bytes(), ftypLen, int64(len(moov))
}

func TestMP4ProbeAndExtractAudioTrack(t *testing.T) {
	data, _, _ := buildMinimalMP4(t)
	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})

	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, 1, info.AudioStreams[0].ID)

	var out []byte
	err = d.Extract(context.Background(), 1, func(s sample.Sample) error {
		out = append(out, s.Data...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789ABCDEFGHIJ"), out)
}

func TestMP4Detect(t *testing.T) {
	require.True(t, Detect([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p'}))
	require.False(t, Detect([]byte("RIFF....WAVE")))
}
