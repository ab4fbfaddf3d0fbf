package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultPlaybackSampleRate
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAVPCM16 reads a PCM16 WAV file and returns mono PCM16LE samples and
// the sample rate. Multi-channel audio is downmixed by averaging.
func DecodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if len(pcmData) == 0 {
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	}
	if bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	if frameBytes <= 0 || len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			s := int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2]))
			sum += int(s)
		}
		avg := int16(sum / int(channels))
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(avg))
	}
	return mono, sampleRate, nil
}

// Recorder accumulates the agent audio of one session and writes it to a WAV
// file when the session ends. A Recorder with an empty dir records nothing.
type Recorder struct {
	dir        string
	sampleRate int

	mu  sync.Mutex
	buf []byte
}

func NewRecorder(dir string, sampleRate int) *Recorder {
	return &Recorder{dir: dir, sampleRate: sampleRate}
}

func (r *Recorder) Enabled() bool {
	return r != nil && r.dir != ""
}

func (r *Recorder) Append(pcm []byte) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	r.buf = append(r.buf, pcm...)
	r.mu.Unlock()
}

// Reset drops buffered audio without writing it.
func (r *Recorder) Reset() {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

// Take returns the buffered audio and empties the buffer.
func (r *Recorder) Take() []byte {
	if !r.Enabled() {
		return nil
	}
	r.mu.Lock()
	pcm := r.buf
	r.buf = nil
	r.mu.Unlock()
	return pcm
}

// Save writes pcm as <sessionID>-<endedAt>.wav under the recorder directory.
// It returns "" when there is nothing to write.
func (r *Recorder) Save(sessionID string, endedAt time.Time, pcm []byte) (string, error) {
	if !r.Enabled() || len(pcm) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create record dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.wav", sessionID, endedAt.UTC().Format("20060102T150405"))
	path := filepath.Join(r.dir, name)
	if err := WriteWAVPCM16LEFile(path, pcm, r.sampleRate); err != nil {
		return "", fmt.Errorf("write session recording: %w", err)
	}
	return path, nil
}
