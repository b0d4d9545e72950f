package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the canonical minimal PCM WAV header in bytes.
const HeaderSize = 44

// ErrMalformedContainer indicates the input is too short or structurally
// invalid to be a WAV container.
var ErrMalformedContainer = errors.New("malformed audio container")

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV encodes interleaved PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}

	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2) // 2 bytes per sample
	fileSize := uint32(HeaderSize-8) + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes WAV format data back to interleaved PCM-16 samples
func DecodeWAV(data []byte) ([]int16, *WAVInfo, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, nil, err
	}

	numSamples := int(info.DataSize) / 2 // 2 bytes per sample
	if numSamples <= 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	// Tolerate truncated data sections; decode whatever is present.
	available := (len(data) - HeaderSize) / 2
	if numSamples > available {
		numSamples = available
	}

	samples := make([]int16, numSamples)
	buf := bytes.NewReader(data[HeaderSize:])
	if err := binary.Read(buf, binary.LittleEndian, samples); err != nil {
		return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, info, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: need at least %d bytes, got %d", ErrMalformedContainer, HeaderSize, len(data))
	}

	// Check RIFF header
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("%w: missing RIFF header", ErrMalformedContainer)
	}

	// Check WAVE format
	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("%w: missing WAVE format", ErrMalformedContainer)
	}

	// Check fmt chunk
	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("%w: missing fmt chunk", ErrMalformedContainer)
	}

	// Check data chunk
	if string(data[36:40]) != "data" {
		return fmt.Errorf("%w: missing data chunk", ErrMalformedContainer)
	}

	return nil
}

// IsWAV reports whether data starts with a structurally valid minimal WAV header.
func IsWAV(data []byte) bool {
	return ValidateWAV(data) == nil
}

// ExtractHeader returns a copy of the 44-byte header of a WAV container.
func ExtractHeader(data []byte) ([]byte, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	header := make([]byte, HeaderSize)
	copy(header, data[:HeaderSize])
	return header, nil
}

// ExtractPayload returns the raw PCM payload after the 44-byte header.
// The returned slice aliases the input; callers must not mutate it.
func ExtractPayload(data []byte) ([]byte, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	return data[HeaderSize:], nil
}

// RewriteHeader returns a new 44-byte header for a payload of payloadLen bytes.
// The RIFF chunk-size field (offset 4) becomes payloadLen + 36 and the data
// subchunk-size field (offset 40) becomes payloadLen; every other byte is
// copied from the original header so format, channel count, sample rate and
// bit depth carry over unchanged.
func RewriteHeader(header []byte, payloadLen int) ([]byte, error) {
	if len(header) < HeaderSize {
		return nil, fmt.Errorf("%w: header must be %d bytes, got %d", ErrMalformedContainer, HeaderSize, len(header))
	}

	if payloadLen < 0 {
		return nil, fmt.Errorf("payload length cannot be negative, got %d", payloadLen)
	}

	rewritten := make([]byte, HeaderSize)
	copy(rewritten, header[:HeaderSize])

	binary.LittleEndian.PutUint32(rewritten[4:8], uint32(payloadLen+HeaderSize-8))
	binary.LittleEndian.PutUint32(rewritten[40:44], uint32(payloadLen))

	return rewritten, nil
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}

	return info.Duration, nil
}

// WAVInfo describes the format and size of a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}

	bytesPerSample := uint32(header.BitsPerSample) / 8
	numSamples := header.Subchunk2Size / bytesPerSample
	frames := numSamples / uint32(header.NumChannels)
	duration := float64(frames) / float64(header.SampleRate)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
