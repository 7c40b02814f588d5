package mediainfo

import "testing"

func TestAACSampleRateIndex(t *testing.T) {
	tests := []struct {
		rate    int
		wantIdx uint8
		wantOK  bool
	}{
		{96000, 0, true},
		{44100, 4, true},
		{7350, 12, true},
		{22000, 0, false},
	}
	for _, tt := range tests {
		idx, ok := AACSampleRateIndex(tt.rate)
		if ok != tt.wantOK {
			t.Fatalf("AACSampleRateIndex(%d) ok=%v want %v", tt.rate, ok, tt.wantOK)
		}
		if ok && idx != tt.wantIdx {
			t.Fatalf("AACSampleRateIndex(%d) = %d want %d", tt.rate, idx, tt.wantIdx)
		}
	}
}

func TestAACProfileName(t *testing.T) {
	if AACProfileName(AACObjectLC) != "LC" {
		t.Fatalf("expected LC profile name")
	}
	if AACProfileName(99) != "" {
		t.Fatalf("expected empty profile name for unknown object type")
	}
}

func TestMatroskaAudioCodecPassthrough(t *testing.T) {
	if MatroskaAudioCodec("A_OPUS") != "opus" {
		t.Fatalf("expected opus")
	}
	if MatroskaAudioCodec("A_WEIRD/CUSTOM") != "A_WEIRD/CUSTOM" {
		t.Fatalf("expected passthrough of unrecognized codec id")
	}
}

func TestAVIFormatTag(t *testing.T) {
	codec, ok := AVIFormatTag(0x0002)
	if !ok || codec != "adpcm_ms" {
		t.Fatalf("expected adpcm_ms, got %q ok=%v", codec, ok)
	}
	if _, ok := AVIFormatTag(0xDEAD); ok {
		t.Fatalf("expected unknown formatTag to resolve ok=false")
	}
}

func TestMPEGTSStreamType(t *testing.T) {
	codec, ok := MPEGTSStreamType(0x0F)
	if !ok || codec != "aac" {
		t.Fatalf("expected aac, got %q", codec)
	}
}

func TestPCMCodecForBitsPerSample(t *testing.T) {
	if PCMCodecForBitsPerSample(8) != "pcm_u8" {
		t.Fatalf("expected pcm_u8 for 8 bits")
	}
	if PCMCodecForBitsPerSample(16) != "pcm_s16le" {
		t.Fatalf("expected pcm_s16le for 16 bits")
	}
}
