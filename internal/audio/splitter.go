package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/skypro1111/meeting-transcriber/internal/metrics"
)

// Blob is an immutable audio payload with its declared MIME type.
type Blob struct {
	Data []byte
	MIME string
}

// Size returns the payload length in bytes.
func (b Blob) Size() int {
	return len(b.Data)
}

// Chunk is an independently transmittable slice of a larger Blob, tagged
// with its zero-based ordinal position in the original sequence.
type Chunk struct {
	Index int
	Data  []byte
	MIME  string
}

// Default splitting parameters.
const (
	// DefaultMaxChunkBytes leaves a safety margin under the provider's
	// 25MB raw upload ceiling.
	DefaultMaxChunkBytes = 24_500_000

	// DefaultHardLimitBytes is the absolute provider ceiling; a chunk
	// above this is rejected outright, so oversized chunks are
	// downsampled or re-split until they fit.
	DefaultHardLimitBytes = 25_000_000

	// DefaultMinSampleRate is the floor for adaptive downsampling.
	// 8 kHz remains intelligible for speech.
	DefaultMinSampleRate = 8000

	// DefaultDownsampleAttempts bounds how many reduction passes are
	// tried before falling back to recursive re-splitting.
	DefaultDownsampleAttempts = 3

	// approxCompressedBytesPerMinute estimates compressed speech audio
	// at roughly 128 kbit/s for containers whose duration cannot be
	// parsed. Deliberately approximate; only affects chunk-count
	// efficiency, never reconstruction correctness.
	approxCompressedBytesPerMinute = 960_000

	// maxSplitDepth bounds recursive re-splitting of oversized chunks.
	maxSplitDepth = 8
)

// SplitConfig contains configuration for the splitting process
type SplitConfig struct {
	MaxChunkBytes      int     // per-chunk byte budget
	MaxChunkDuration   float64 // seconds; 0 disables the duration bound
	HardLimitBytes     int     // absolute provider ceiling
	MinSampleRate      int     // downsampling floor in Hz
	DownsampleAttempts int     // reduction passes before recursive re-split
}

// Splitter slices audio blobs into chunks that fit byte and duration budgets.
// WAV input is split format-aware with a repaired header per slice so every
// chunk stays independently playable; unknown containers fall back to raw
// binary slicing, which guarantees exact concatenation but not per-chunk
// decodability (the transcription provider tolerates this in practice).
type Splitter struct {
	config  SplitConfig
	metrics *metrics.Metrics

	// Statistics
	blobsSplit       uint64
	chunksProduced   uint64
	bytesProcessed   uint64
	downsamplePasses uint64

	mu sync.RWMutex
}

// SplitterStats represents splitter statistics
type SplitterStats struct {
	BlobsSplit       uint64 `json:"blobs_split"`
	ChunksProduced   uint64 `json:"chunks_produced"`
	BytesProcessed   uint64 `json:"bytes_processed"`
	DownsamplePasses uint64 `json:"downsample_passes"`
}

// NewSplitter creates a new splitter, filling zero config fields with
// defaults. m may be nil to disable metrics.
func NewSplitter(config SplitConfig, m *metrics.Metrics) *Splitter {
	if config.MaxChunkBytes <= 0 {
		config.MaxChunkBytes = DefaultMaxChunkBytes
	}

	if config.HardLimitBytes <= 0 {
		config.HardLimitBytes = DefaultHardLimitBytes
	}

	if config.HardLimitBytes < config.MaxChunkBytes {
		config.HardLimitBytes = config.MaxChunkBytes
	}

	if config.MinSampleRate <= 0 {
		config.MinSampleRate = DefaultMinSampleRate
	}

	if config.DownsampleAttempts <= 0 {
		config.DownsampleAttempts = DefaultDownsampleAttempts
	}

	return &Splitter{config: config, metrics: m}
}

// Split slices blob into ordered chunks that respect the configured byte and
// duration budgets. A blob already under both budgets is returned unchanged
// as the sole chunk, without copying.
func (s *Splitter) Split(blob Blob) ([]Chunk, error) {
	if len(blob.Data) == 0 {
		return nil, fmt.Errorf("cannot split empty audio blob")
	}

	isWAV := IsWAV(blob.Data)

	// Duration is "known" only when the container actually carries it.
	var knownDuration float64
	if isWAV {
		d, err := GetWAVDuration(blob.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to read WAV duration: %w", err)
		}
		knownDuration = d
	}

	if len(blob.Data) <= s.config.MaxChunkBytes &&
		(s.config.MaxChunkDuration <= 0 || knownDuration == 0 || knownDuration <= s.config.MaxChunkDuration) {
		return []Chunk{{Index: 0, Data: blob.Data, MIME: blob.MIME}}, nil
	}

	duration := knownDuration
	if duration == 0 {
		duration = estimateDuration(len(blob.Data))
	}

	budget := s.effectiveBudget(len(blob.Data), duration)

	var parts [][]byte
	var err error
	if isWAV {
		parts, err = s.splitWAV(blob.Data, budget, 0)
	} else {
		parts = splitBinary(blob.Data, budget)
	}
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = Chunk{Index: i, Data: part, MIME: blob.MIME}
	}

	s.mu.Lock()
	s.blobsSplit++
	s.chunksProduced += uint64(len(chunks))
	s.bytesProcessed += uint64(len(blob.Data))
	s.mu.Unlock()

	return chunks, nil
}

// effectiveBudget reconciles the raw byte ceiling with a duration-derived
// ceiling: when the blob runs longer than the duration limit, the byte budget
// shrinks proportionally so each chunk also fits the time budget.
func (s *Splitter) effectiveBudget(size int, duration float64) int {
	budget := s.config.MaxChunkBytes

	if s.config.MaxChunkDuration > 0 && duration > s.config.MaxChunkDuration {
		durationBudget := int(float64(size) * s.config.MaxChunkDuration / duration)
		if durationBudget < budget {
			budget = durationBudget
		}
	}

	if budget < 1 {
		budget = 1
	}

	return budget
}

// splitWAV slices the PCM payload into even, contiguous parts no larger than
// budget bytes each and prepends a repaired header to every part. Payload
// bytes are budgeted; the 44-byte header rides inside the safety margin
// between the budget and the hard provider ceiling.
func (s *Splitter) splitWAV(data []byte, budget int, depth int) ([][]byte, error) {
	header, err := ExtractHeader(data)
	if err != nil {
		return nil, err
	}

	payload, err := ExtractPayload(data)
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: WAV container has no payload", ErrMalformedContainer)
	}

	numChunks := ceilDiv(len(payload), budget)
	sliceLen := ceilDiv(len(payload), numChunks)

	// Slice boundaries must land on frame boundaries; a chunk starting
	// mid-sample decodes as byte-shifted garbage. Rounding up costs at
	// most blockAlign-1 bytes per chunk, well inside the margin between
	// the budget and the hard ceiling.
	blockAlign := int(binary.LittleEndian.Uint16(header[32:34]))
	if blockAlign <= 0 {
		blockAlign = 2
	}
	if rem := sliceLen % blockAlign; rem != 0 {
		sliceLen += blockAlign - rem
	}

	parts := make([][]byte, 0, numChunks)
	for offset := 0; offset < len(payload); offset += sliceLen {
		end := offset + sliceLen
		if end > len(payload) {
			end = len(payload)
		}

		slice := payload[offset:end]
		rewritten, err := RewriteHeader(header, len(slice))
		if err != nil {
			return nil, err
		}

		part := make([]byte, 0, HeaderSize+len(slice))
		part = append(part, rewritten...)
		part = append(part, slice...)

		if len(part) > s.config.HardLimitBytes {
			fitted, err := s.fitChunk(part, depth)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fitted...)
			continue
		}

		parts = append(parts, part)
	}

	return parts, nil
}

// fitChunk shrinks a WAV chunk that exceeds the hard provider ceiling:
// bounded downsampling passes first, then a recursive re-split at half the
// byte budget, splicing the sub-chunks in place of the oversized chunk.
func (s *Splitter) fitChunk(chunk []byte, depth int) ([][]byte, error) {
	if depth >= maxSplitDepth {
		return nil, fmt.Errorf("chunk of %d bytes still exceeds the %d byte limit after %d split passes",
			len(chunk), s.config.HardLimitBytes, depth)
	}

	data := chunk
	for attempt := 0; attempt < s.config.DownsampleAttempts && len(data) > s.config.HardLimitBytes; attempt++ {
		reduced, changed, err := downsampleWAV(data, s.config.MinSampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to downsample oversized chunk: %w", err)
		}
		if !changed {
			break
		}

		data = reduced

		s.mu.Lock()
		s.downsamplePasses++
		s.mu.Unlock()
		s.metrics.RecordDownsamplePass()
	}

	if len(data) <= s.config.HardLimitBytes {
		return [][]byte{data}, nil
	}

	return s.splitWAV(data, s.config.HardLimitBytes/2, depth+1)
}

// splitBinary slices data into contiguous byte ranges of at most budget
// bytes. Slices alias the input; concatenating them in order reconstructs
// the original bytes exactly, but individual slices of a compressed
// container are not guaranteed independently decodable; the provider is
// lenient about mid-stream starts, and transcoding unknown containers
// first would require an external decoder.
func splitBinary(data []byte, budget int) [][]byte {
	numChunks := ceilDiv(len(data), budget)
	parts := make([][]byte, 0, numChunks)

	for offset := 0; offset < len(data); offset += budget {
		end := offset + budget
		if end > len(data) {
			end = len(data)
		}
		parts = append(parts, data[offset:end])
	}

	return parts
}

// downsampleWAV performs one reduction pass on a PCM WAV chunk: stereo is
// collapsed to mono by channel averaging first, then the sample rate is
// halved down to minRate. Returns the re-encoded bytes and whether anything
// was reduced.
func downsampleWAV(data []byte, minRate int) ([]byte, bool, error) {
	samples, info, err := DecodeWAV(data)
	if err != nil {
		return nil, false, err
	}

	rate := int(info.SampleRate)
	channels := int(info.Channels)

	switch {
	case channels == 2:
		mono := make([]int16, len(samples)/2)
		for i := range mono {
			left := int32(samples[i*2])
			right := int32(samples[i*2+1])
			mono[i] = int16((left + right) / 2)
		}
		samples = mono
		channels = 1

	case rate/2 >= minRate:
		decimated := make([]int16, 0, len(samples)/2+1)
		for i := 0; i < len(samples); i += 2 {
			decimated = append(decimated, samples[i])
		}
		samples = decimated
		rate = rate / 2

	default:
		return data, false, nil
	}

	if len(samples) == 0 {
		return data, false, nil
	}

	encoded, err := EncodeWAV(samples, rate, channels)
	if err != nil {
		return nil, false, err
	}

	return encoded, true, nil
}

// estimateDuration approximates the duration in seconds of a compressed
// container from its byte size.
func estimateDuration(size int) float64 {
	return float64(size) / (approxCompressedBytesPerMinute / 60.0)
}

// GetStats returns current splitter statistics
func (s *Splitter) GetStats() SplitterStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SplitterStats{
		BlobsSplit:       s.blobsSplit,
		ChunksProduced:   s.chunksProduced,
		BytesProcessed:   s.bytesProcessed,
		DownsamplePasses: s.downsamplePasses,
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
