package relay

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// ContentEncoding 是帧头 :content-encoding 的取值。
type ContentEncoding string

const (
	Identity ContentEncoding = ""
	Gzip     ContentEncoding = "gzip"
)

// compressPayload 按编码方式压缩 payload
func compressPayload(data []byte, enc ContentEncoding) ([]byte, error) {
	switch enc {
	case Identity:
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			writer.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding: %q", enc)
	}
}

// decompressPayload 按编码方式解压 payload
func decompressPayload(data []byte, enc ContentEncoding) ([]byte, error) {
	switch enc {
	case Identity:
		return data, nil
	case Gzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer reader.Close()

		out, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding: %q", enc)
	}
}
