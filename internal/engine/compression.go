package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "multidb-backup/internal/errors"
)

// CompressionType names a codec
type CompressionType string

const (
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// Codec streams data through one compression format
type Codec interface {
	Algorithm() CompressionType
	Extension() string
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// CompressionManager compresses and decompresses dump files on disk
type CompressionManager struct {
	codecs    map[CompressionType]Codec
	algorithm CompressionType
	level     int
}

// NewCompressionManager creates a manager that writes with the given algorithm.
// An empty algorithm selects gzip.
func NewCompressionManager(algorithm CompressionType, level int) (*CompressionManager, error) {
	cm := &CompressionManager{
		codecs: map[CompressionType]Codec{
			CompressionTypeGzip: gzipCodec{},
			CompressionTypeLZ4:  lz4Codec{},
			CompressionTypeZstd: zstdCodec{},
		},
		algorithm: algorithm,
		level:     level,
	}
	if cm.algorithm == "" {
		cm.algorithm = CompressionTypeGzip
	}
	if _, ok := cm.codecs[cm.algorithm]; !ok {
		return nil, apperrors.NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return cm, nil
}

// NewDefaultCompressionManager returns a gzip manager at the default level
func NewDefaultCompressionManager() *CompressionManager {
	cm, _ := NewCompressionManager(CompressionTypeGzip, 0)
	return cm
}

// Algorithm returns the codec used by Compress
func (cm *CompressionManager) Algorithm() CompressionType {
	return cm.algorithm
}

// IsCompressed reports whether path carries a known codec extension
func (cm *CompressionManager) IsCompressed(path string) bool {
	_, ok := cm.codecForPath(path)
	return ok
}

func (cm *CompressionManager) codecForPath(path string) (Codec, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, codec := range cm.codecs {
		if codec.Extension() == ext {
			return codec, true
		}
	}
	return nil, false
}

// Compress writes <path><ext> and removes path on success.
// On failure path is left intact and the partial output is removed.
func (cm *CompressionManager) Compress(path string) (string, error) {
	codec := cm.codecs[cm.algorithm]
	dest := path + codec.Extension()

	create := func() (*os.File, error) {
		return os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	}
	if _, err := cm.transform(path, create, func(w io.Writer) (io.WriteCloser, error) {
		return codec.NewWriter(w, cm.level)
	}, nil); err != nil {
		return "", apperrors.NewCompressionError(fmt.Sprintf("failed to compress %s", filepath.Base(path)), err).
			WithContext("algorithm", string(codec.Algorithm()))
	}

	if err := os.Remove(path); err != nil {
		return "", apperrors.NewCompressionError(fmt.Sprintf("compressed %s but could not remove the original", filepath.Base(path)), err)
	}
	return dest, nil
}

// Decompress writes the decompressed form of path into destDir, stripping the
// codec extension, and returns the new file. An empty destDir means the
// directory of path. path itself is not removed and no existing file is replaced.
func (cm *CompressionManager) Decompress(path, destDir string) (string, error) {
	codec, ok := cm.codecForPath(path)
	if !ok {
		return "", apperrors.NewCompressionError(fmt.Sprintf("%s has no recognised compression extension", filepath.Base(path)), nil)
	}
	if destDir == "" {
		destDir = filepath.Dir(path)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	create := func() (*os.File, error) {
		out, err := os.OpenFile(filepath.Join(destDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if errors.Is(err, fs.ErrExist) {
			return os.CreateTemp(destDir, "restore-*-"+name)
		}
		return out, err
	}

	dest, err := cm.transform(path, create, nil, codec.NewReader)
	if err != nil {
		return "", apperrors.NewCompressionError(fmt.Sprintf("failed to decompress %s", filepath.Base(path)), err).
			WithContext("algorithm", string(codec.Algorithm()))
	}
	return dest, nil
}

// transform streams src through the codec into the file returned by create and
// returns its path. The output is removed on failure.
func (cm *CompressionManager) transform(src string, create func() (*os.File, error), wrapWriter func(io.Writer) (io.WriteCloser, error), wrapReader func(io.Reader) (io.ReadCloser, error)) (dest string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := create()
	if err != nil {
		return "", err
	}
	dest = out.Name()
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dest)
			dest = ""
		}
	}()

	var r io.Reader = in
	if wrapReader != nil {
		rc, err := wrapReader(in)
		if err != nil {
			return dest, err
		}
		defer rc.Close()
		r = rc
	}

	if wrapWriter == nil {
		_, err = io.Copy(out, r)
		return dest, err
	}

	w, err := wrapWriter(out)
	if err != nil {
		return dest, err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return dest, err
	}
	return dest, w.Close()
}

type gzipCodec struct{}

func (gzipCodec) Algorithm() CompressionType { return CompressionTypeGzip }
func (gzipCodec) Extension() string          { return ".gz" }

func (gzipCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return gzip.NewWriterLevel(w, level)
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type lz4Codec struct{}

func (lz4Codec) Algorithm() CompressionType { return CompressionTypeLZ4 }
func (lz4Codec) Extension() string          { return ".lz4" }

func (lz4Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type zstdCodec struct{}

func (zstdCodec) Algorithm() CompressionType { return CompressionTypeZstd }
func (zstdCodec) Extension() string          { return ".zst" }

func (zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encoderLevel := zstd.SpeedDefault
	switch {
	case level <= 0:
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}
