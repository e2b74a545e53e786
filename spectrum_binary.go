package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Binary Spectrum Frame Format
// ============================
//
// Spectrum frames use a hybrid header strategy: a full self-describing
// header on the first frame and whenever the stream parameters change,
// and a minimal header on every other frame.
//
// FULL HEADER FORMAT (28 bytes):
// ------------------------------
// Offset | Size | Type    | Description
// -------|------|---------|--------------------------------------------
// 0      | 2    | uint16  | Magic bytes: 0x5346 ("SF")
// 2      | 1    | uint8   | Version: 1
// 3      | 1    | uint8   | Format type: 0=raw, 1=zstd
// 4      | 8    | uint64  | Batch sequence number
// 12     | 8    | uint64  | Wall clock time in milliseconds
// 20     | 4    | uint32  | Input sample rate in Hz
// 24     | 2    | uint16  | Bin count
// 26     | 2    | uint16  | Reserved
// 28     | N*4  | []f32   | Per-bin power in dB (little-endian float32)
//
// MINIMAL HEADER FORMAT (13 bytes):
// ---------------------------------
// 0      | 2    | uint16  | Magic bytes: 0x534D ("SM")
// 2      | 1    | uint8   | Version: 1
// 3      | 8    | uint64  | Batch sequence number
// 11     | 2    | uint16  | Reserved
// 13     | N*4  | []f32   | Per-bin power in dB
//
// When the format type is zstd the entire frame (header + payload) is
// compressed; clients decompress first, then parse.

const (
	SpectrumMagicFull    uint16 = 0x5346 // "SF"
	SpectrumMagicMinimal uint16 = 0x534D // "SM"

	SpectrumFrameVersion uint8 = 1

	SpectrumFormatRaw  uint8 = 0
	SpectrumFormatZstd uint8 = 1

	SpectrumFullHeaderSize    = 28
	SpectrumMinimalHeaderSize = 13
)

// SpectrumFrameEncoder encodes spectrum frames with optional zstd
// compression
type SpectrumFrameEncoder struct {
	useCompression bool
	zstdEncoder    *zstd.Encoder
	mu             sync.Mutex

	lastSampleRate int
	lastBinCount   int
	frameCount     uint64
}

// NewSpectrumFrameEncoder creates a frame encoder
func NewSpectrumFrameEncoder(useCompression bool) *SpectrumFrameEncoder {
	e := &SpectrumFrameEncoder{
		useCompression: useCompression,
		lastSampleRate: -1, // force a full header on the first frame
		lastBinCount:   -1,
	}

	if useCompression {
		e.zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	}

	return e
}

// ForceFullHeader makes the next encoded frame carry a full header.
// Called when a new client joins mid-stream so it can learn the stream
// parameters without waiting for them to change.
func (e *SpectrumFrameEncoder) ForceFullHeader() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSampleRate = -1
	e.lastBinCount = -1
}

// Encode builds one wire frame for a spectrum batch
func (e *SpectrumFrameEncoder) Encode(bins []float32, seq uint64, sampleRate int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.frameCount++

	needFullHeader := e.lastSampleRate != sampleRate || e.lastBinCount != len(bins)

	var frame []byte
	if needFullHeader {
		frame = e.buildFullHeaderFrame(bins, seq, sampleRate)
		e.lastSampleRate = sampleRate
		e.lastBinCount = len(bins)
	} else {
		frame = e.buildMinimalHeaderFrame(bins, seq)
	}

	if e.useCompression && e.zstdEncoder != nil {
		return e.zstdEncoder.EncodeAll(frame, make([]byte, 0, len(frame)))
	}

	return frame
}

func (e *SpectrumFrameEncoder) formatType() uint8 {
	if e.useCompression {
		return SpectrumFormatZstd
	}
	return SpectrumFormatRaw
}

func (e *SpectrumFrameEncoder) buildFullHeaderFrame(bins []float32, seq uint64, sampleRate int) []byte {
	frame := make([]byte, SpectrumFullHeaderSize+4*len(bins))

	binary.LittleEndian.PutUint16(frame[0:], SpectrumMagicFull)
	frame[2] = SpectrumFrameVersion
	frame[3] = e.formatType()
	binary.LittleEndian.PutUint64(frame[4:], seq)
	binary.LittleEndian.PutUint64(frame[12:], uint64(time.Now().UnixMilli()))
	binary.LittleEndian.PutUint32(frame[20:], uint32(sampleRate))
	binary.LittleEndian.PutUint16(frame[24:], uint16(len(bins)))
	binary.LittleEndian.PutUint16(frame[26:], 0)

	putBins(frame[SpectrumFullHeaderSize:], bins)
	return frame
}

func (e *SpectrumFrameEncoder) buildMinimalHeaderFrame(bins []float32, seq uint64) []byte {
	frame := make([]byte, SpectrumMinimalHeaderSize+4*len(bins))

	binary.LittleEndian.PutUint16(frame[0:], SpectrumMagicMinimal)
	frame[2] = SpectrumFrameVersion
	binary.LittleEndian.PutUint64(frame[3:], seq)
	binary.LittleEndian.PutUint16(frame[11:], 0)

	putBins(frame[SpectrumMinimalHeaderSize:], bins)
	return frame
}

func putBins(dst []byte, bins []float32) {
	for i, v := range bins {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

// SpectrumFrame is a decoded wire frame
type SpectrumFrame struct {
	Full       bool
	Seq        uint64
	Timestamp  int64 // milliseconds, full frames only
	SampleRate int   // full frames only
	Bins       []float32
}

// DecodeSpectrumFrame parses a wire frame produced by the encoder. The
// compressed flag selects zstd decompression before parsing.
func DecodeSpectrumFrame(data []byte, compressed bool) (*SpectrumFrame, error) {
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()

		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress frame: %w", err)
		}
	}

	if len(data) < SpectrumMinimalHeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	switch binary.LittleEndian.Uint16(data[0:]) {
	case SpectrumMagicFull:
		if len(data) < SpectrumFullHeaderSize {
			return nil, fmt.Errorf("full-header frame too short: %d bytes", len(data))
		}
		binCount := int(binary.LittleEndian.Uint16(data[24:]))
		if len(data) < SpectrumFullHeaderSize+4*binCount {
			return nil, fmt.Errorf("truncated frame payload")
		}
		return &SpectrumFrame{
			Full:       true,
			Seq:        binary.LittleEndian.Uint64(data[4:]),
			Timestamp:  int64(binary.LittleEndian.Uint64(data[12:])),
			SampleRate: int(binary.LittleEndian.Uint32(data[20:])),
			Bins:       getBins(data[SpectrumFullHeaderSize:], binCount),
		}, nil

	case SpectrumMagicMinimal:
		payload := data[SpectrumMinimalHeaderSize:]
		if len(payload)%4 != 0 {
			return nil, fmt.Errorf("malformed frame payload length %d", len(payload))
		}
		return &SpectrumFrame{
			Seq:  binary.LittleEndian.Uint64(data[3:]),
			Bins: getBins(payload, len(payload)/4),
		}, nil

	default:
		return nil, fmt.Errorf("unknown frame magic 0x%04x", binary.LittleEndian.Uint16(data[0:]))
	}
}

func getBins(src []byte, count int) []float32 {
	bins := make([]float32, count)
	for i := range bins {
		bins[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
	return bins
}
