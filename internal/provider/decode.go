package provider

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

// acceptEncoding is advertised on every request; decompressBody understands all of them.
const acceptEncoding = "gzip, deflate, br, zstd"

// decompressBody decodes data according to the Content-Encoding header value.
// Unknown encodings are returned untouched.
func decompressBody(contentEncoding string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("provider: failed to close gzip reader")
			}
		}()
		return readAll(reader, "gzip")
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(data))
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("provider: failed to close deflate reader")
			}
		}()
		return readAll(reader, "deflate")
	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(data)), "brotli")
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		return readAll(decoder, "zstd")
	default:
		return data, nil
	}
}

func readAll(r io.Reader, name string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s data: %w", name, err)
	}
	return out, nil
}
