package backup

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionStats contains statistics about a compression operation
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	Duration         time.Duration   `json:"duration"`
}

// Compressor defines compression operations for a single algorithm
type Compressor interface {
	Compress(data []byte, level int) ([]byte, *CompressionStats, error)
	Decompress(data []byte) ([]byte, error)
	GetAlgorithm() CompressionType
	GetDefaultLevel() int
	GetMaxLevel() int
	GetMinLevel() int
}

// CompressionManager dispatches to the registered compressors
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with gzip, lz4 and zstd registered
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionTypeGzip] = &GzipCompressor{}
	cm.compressors[CompressionTypeLZ4] = &LZ4Compressor{}
	cm.compressors[CompressionTypeZstd] = &ZstdCompressor{}

	return cm
}

// Compress compresses data using the specified algorithm and level
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	if algorithm == CompressionTypeNone {
		return data, &CompressionStats{
			OriginalSize:     int64(len(data)),
			CompressedSize:   int64(len(data)),
			CompressionRatio: 1.0,
			Algorithm:        CompressionTypeNone,
		}, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	if level < compressor.GetMinLevel() || level > compressor.GetMaxLevel() {
		level = compressor.GetDefaultLevel()
	}

	return compressor.Compress(data, level)
}

// Decompress decompresses data using the specified algorithm
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone {
		return data, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	return compressor.Decompress(data)
}

// ParseCompressionType maps a config string to a CompressionType
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionTypeNone, nil
	case "gzip":
		return CompressionTypeGzip, nil
	case "lz4":
		return CompressionTypeLZ4, nil
	case "zstd":
		return CompressionTypeZstd, nil
	}
	return "", NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
}

// ArtifactExtension returns the file extension for an artifact with
// the given compression algorithm applied.
func ArtifactExtension(algorithm CompressionType) string {
	switch algorithm {
	case CompressionTypeGzip:
		return ".json.gz"
	case CompressionTypeLZ4:
		return ".json.lz4"
	case CompressionTypeZstd:
		return ".json.zst"
	default:
		return ".json"
	}
}

// CompressionTypeForFile infers the compression algorithm from a file name
func CompressionTypeForFile(name string) CompressionType {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return CompressionTypeGzip
	case strings.HasSuffix(name, ".lz4"):
		return CompressionTypeLZ4
	case strings.HasSuffix(name, ".zst"):
		return CompressionTypeZstd
	default:
		return CompressionTypeNone
	}
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, nil, NewCompressionError("failed to create gzip writer", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, nil, NewCompressionError("failed to write data to gzip writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, nil, NewCompressionError("failed to close gzip writer", err)
	}

	compressed := buf.Bytes()
	stats := &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(compressed)),
		CompressionRatio: compressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:        CompressionTypeGzip,
		Level:            level,
		Duration:         time.Since(start),
	}

	return compressed, stats, nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress gzip data", err)
	}

	return decompressed, nil
}

func (gc *GzipCompressor) GetAlgorithm() CompressionType { return CompressionTypeGzip }
func (gc *GzipCompressor) GetDefaultLevel() int          { return gzip.DefaultCompression }
func (gc *GzipCompressor) GetMaxLevel() int              { return gzip.BestCompression }
func (gc *GzipCompressor) GetMinLevel() int              { return gzip.BestSpeed }

// LZ4Compressor implements lz4 compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if err := writer.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(level))); err != nil {
		return nil, nil, NewCompressionError("failed to set lz4 compression level", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, nil, NewCompressionError("failed to write data to lz4 writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, nil, NewCompressionError("failed to close lz4 writer", err)
	}

	compressed := buf.Bytes()
	stats := &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(compressed)),
		CompressionRatio: compressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:        CompressionTypeLZ4,
		Level:            level,
		Duration:         time.Since(start),
	}

	return compressed, stats, nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress lz4 data", err)
	}

	return decompressed, nil
}

func (lc *LZ4Compressor) GetAlgorithm() CompressionType { return CompressionTypeLZ4 }
func (lc *LZ4Compressor) GetDefaultLevel() int          { return 0 }
func (lc *LZ4Compressor) GetMaxLevel() int              { return 9 }
func (lc *LZ4Compressor) GetMinLevel() int              { return 0 }

// ZstdCompressor implements zstd compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, nil, NewCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(data, nil)
	stats := &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(compressed)),
		CompressionRatio: compressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:        CompressionTypeZstd,
		Level:            level,
		Duration:         time.Since(start),
	}

	return compressed, stats, nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return nil, NewCompressionError("failed to decompress zstd data", err)
	}

	return decompressed, nil
}

func (zc *ZstdCompressor) GetAlgorithm() CompressionType { return CompressionTypeZstd }
func (zc *ZstdCompressor) GetDefaultLevel() int          { return 3 }
func (zc *ZstdCompressor) GetMaxLevel() int              { return 22 }
func (zc *ZstdCompressor) GetMinLevel() int              { return 1 }

func compressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}
