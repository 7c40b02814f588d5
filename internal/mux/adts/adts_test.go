package adts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFramerRejectsUnrepresentableSampleRate(t *testing.T) {
	_, err := NewFramer(12345, 2, 2)
	require.Error(t, err)
}

func TestNewFramerRejectsOutOfRangeAudioObjectType(t *testing.T) {
	_, err := NewFramer(44100, 2, 0)
	require.Error(t, err)
	_, err = NewFramer(44100, 2, 5)
	require.Error(t, err)
}

func TestWrapProducesValidHeaderAndRoundTrips(t *testing.T) {
	f, err := NewFramer(44100, 2, 2) // AAC-LC, stereo
	require.NoError(t, err)

	payload := []byte("raw-access-unit-bytes")
	out, err := f.Wrap(payload)
	require.NoError(t, err)
	require.Equal(t, 7+len(payload), len(out))

	require.Equal(t, byte(0xFF), out[0])
	require.Equal(t, byte(0xF1), out[1])

	profile := out[2] >> 6
	sampleRateIdx := (out[2] >> 2) & 0x0F
	channelCfg := ((out[2] & 0x01) << 2) | (out[3] >> 6)
	frameLen := (int(out[3]&0x03) << 11) | (int(out[4]) << 3) | (int(out[5]) >> 5)

	require.Equal(t, byte(1), profile) // AudioObjectType 2 (LC) -> profile bits 1
	require.Equal(t, byte(4), sampleRateIdx) // 44100Hz is ADTS index 4
	require.Equal(t, byte(2), channelCfg)
	require.Equal(t, 7+len(payload), frameLen)
	require.Equal(t, payload, out[7:])
}

func TestWrapRejectsOversizedFrame(t *testing.T) {
	f, err := NewFramer(44100, 2, 2)
	require.NoError(t, err)
	_, err = f.Wrap(make([]byte, 1<<13))
	require.Error(t, err)
}
