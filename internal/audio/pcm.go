package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// SilenceThreshold is the peak amplitude, on the signed 16-bit scale, above
// which a microphone frame counts as user speech.
const SilenceThreshold = 700

const (
	DefaultCaptureSampleRate  = 16000
	DefaultPlaybackSampleRate = 24000
)

// PeakAmplitude returns the largest absolute sample value of a PCM16LE buffer.
// A trailing odd byte is ignored.
func PeakAmplitude(pcm []byte) int {
	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Codec turns raw audio into the textual payload carried by envelopes.
type Codec interface {
	Encode(pcm []byte) string
	Decode(data string) ([]byte, error)
}

type base64Codec struct{}

// Base64 is the codec used on the wire.
var Base64 Codec = base64Codec{}

func (base64Codec) Encode(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func (base64Codec) Decode(data string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return out, nil
}
