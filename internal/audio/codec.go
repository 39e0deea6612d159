package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zaf/g711"

	"github.com/satriahrh/echomind/domain/repositories"
)

// Format is the encoding of inbound audio fragments
type Format string

const (
	FormatPCM16 Format = "pcm16"
	FormatMulaw Format = "mulaw"
	FormatAlaw  Format = "alaw"
	FormatWAV   Format = "wav"
	FormatWebM  Format = "webm"
	FormatOgg   Format = "ogg"
)

// ParseFormat validates a configured format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatPCM16, FormatMulaw, FormatAlaw, FormatWAV, FormatWebM, FormatOgg:
		return f, nil
	case "ulaw", "pcmu":
		return FormatMulaw, nil
	case "pcma":
		return FormatAlaw, nil
	default:
		return "", fmt.Errorf("unsupported audio format: %s", name)
	}
}

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const wavHeaderSize = 44

// EncodeWAV wraps little-endian mono PCM16 bytes in a WAV container
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data must have an even length, got %d", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm))

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// Concat joins a window's fragments in arrival order. WAV fragments after the
// first lose their headers and the result is re-wrapped as one file.
func Concat(fragments [][]byte, format Format, sampleRate int) ([]byte, error) {
	if format == FormatWAV && len(fragments) > 1 && IsWAV(fragments[0]) {
		var pcm []byte
		for _, f := range fragments {
			if IsWAV(f) && len(f) >= wavHeaderSize {
				f = f[wavHeaderSize:]
			}
			pcm = append(pcm, f...)
		}
		rate := int(binary.LittleEndian.Uint32(fragments[0][24:28]))
		if rate <= 0 {
			rate = sampleRate
		}
		if len(pcm)%2 != 0 {
			pcm = pcm[:len(pcm)-1]
		}
		return EncodeWAV(pcm, rate)
	}

	size := 0
	for _, f := range fragments {
		size += len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out, nil
}

// PrepareAudio converts a concatenated window into something a transcriber
// accepts, and describes it
func PrepareAudio(data []byte, format Format, sampleRate int, language string) ([]byte, repositories.AudioConfig, error) {
	config := repositories.AudioConfig{
		SampleRate: sampleRate,
		Language:   language,
	}

	switch format {
	case FormatPCM16:
		if len(data)%2 != 0 {
			data = data[:len(data)-1]
		}
		wav, err := EncodeWAV(data, sampleRate)
		if err != nil {
			return nil, config, err
		}
		config.Encoding, config.Filename = "WAV", "audio.wav"
		return wav, config, nil

	case FormatMulaw, FormatAlaw:
		var pcm []byte
		if format == FormatMulaw {
			pcm = g711.DecodeUlaw(data)
		} else {
			pcm = g711.DecodeAlaw(data)
		}
		wav, err := EncodeWAV(pcm, sampleRate)
		if err != nil {
			return nil, config, err
		}
		config.Encoding, config.Filename = "WAV", "audio.wav"
		return wav, config, nil

	case FormatWAV:
		config.Encoding, config.Filename = "WAV", "audio.wav"
		return data, config, nil

	case FormatWebM:
		config.Encoding, config.Filename = "WEBM_OPUS", "audio.webm"
		return data, config, nil

	case FormatOgg:
		config.Encoding, config.Filename = "OGG_OPUS", "audio.ogg"
		return data, config, nil

	default:
		return nil, config, fmt.Errorf("unsupported audio format: %s", format)
	}
}
