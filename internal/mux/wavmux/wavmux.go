// Package wavmux buffers PCM/ADPCM payloads and emits a RIFF/WAVE file
// (spec §4.13), the inverse of internal/riff's chunk walking.
package wavmux

import (
	"bytes"
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/riff"
)

// Writer buffers audio payloads until Finish is called, since the RIFF
// and data chunk sizes must be back-patched once the total is known
// (spec §5 resource policy: WAV writer buffers the entire data chunk).
type Writer struct {
	fmtEx          riff.WaveFormatEx
	samplesPerBlock uint16 // ADPCM only; 0 for PCM
	data           bytes.Buffer
}

// NewWriter builds a Writer around a format descriptor. samplesPerBlock
// is only meaningful (and non-zero) for ADPCM formats (spec §4.13).
func NewWriter(fmtEx riff.WaveFormatEx, samplesPerBlock uint16) *Writer {
	return &Writer{fmtEx: fmtEx, samplesPerBlock: samplesPerBlock}
}

// Write appends one payload chunk verbatim to the buffered data region.
func (w *Writer) Write(payload []byte) {
	w.data.Write(payload)
}

// Finish serializes the complete WAV file: RIFF/WAVE header, fmt chunk
// (full WAVEFORMATEX including cbSize and any ADPCM extra bytes), then
// the data chunk with everything buffered so far.
func (w *Writer) Finish() []byte {
	fmtBytes := w.marshalFmt()
	dataBytes := w.data.Bytes()

	dataChunkSize := len(dataBytes)
	dataPad := dataChunkSize & 1

	riffSize := 4 /* "WAVE" */ +
		8 + len(fmtBytes) +
		8 + dataChunkSize + dataPad

	var out bytes.Buffer
	out.Grow(8 + riffSize)
	out.WriteString("RIFF")
	writeU32(&out, uint32(riffSize))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	writeU32(&out, uint32(len(fmtBytes)))
	out.Write(fmtBytes)

	out.WriteString("data")
	writeU32(&out, uint32(dataChunkSize))
	out.Write(dataBytes)
	if dataPad == 1 {
		out.WriteByte(0)
	}
	return out.Bytes()
}

// marshalFmt serializes the fmt chunk body: the base WAVEFORMATEX plus,
// for ADPCM, the 2-byte samplesPerBlock extra field spec §4.13 calls
// for beyond riff.MarshalWaveFormatEx's cbSize-prefixed Extra bytes.
func (w *Writer) marshalFmt() []byte {
	fmtEx := w.fmtEx
	if w.samplesPerBlock > 0 {
		extra := make([]byte, 2)
		binary.LittleEndian.PutUint16(extra, w.samplesPerBlock)
		fmtEx.Extra = extra
		fmtEx.CbSize = 2
	}
	return riff.MarshalWaveFormatEx(fmtEx)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// BlockAlign computes the PCM blockAlign (channels * bits/8); ADPCM
// callers should instead take blockAlign from the source stream's
// codec details, per spec §4.13.
func BlockAlign(channels, bitsPerSample int) int {
	return channels * bitsPerSample / 8
}

// ByteRatePCM computes the byteRate field for PCM: sampleRate *
// blockAlign (spec §4.13).
func ByteRatePCM(sampleRate, blockAlign int) int {
	return sampleRate * blockAlign
}

// ByteRateADPCM computes the byteRate field for ADPCM: (sampleRate *
// blockAlign) / samplesPerBlock (spec §4.13).
func ByteRateADPCM(sampleRate, blockAlign, samplesPerBlock int) int {
	if samplesPerBlock == 0 {
		return 0
	}
	return (sampleRate * blockAlign) / samplesPerBlock
}
