// Package codec compresses command text for the wire and frames the
// compressed messages on a stream.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

// MaxDecompressedSize は1メッセージあたりの展開後サイズ上限
const MaxDecompressedSize = 1 << 20

var (
	// ErrInvalidUTF8 は展開結果が UTF-8 テキストでない場合に返る
	ErrInvalidUTF8 = errors.New("reply is not valid UTF-8")
	// ErrTooLarge は展開結果が MaxDecompressedSize を超えた場合に返る
	ErrTooLarge = errors.New("decompressed message too large")
)

// Compress は zlib 形式で圧縮する（サーバー側と同じ最高圧縮レベル）
func Compress(text []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := zw.Write(text); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress は zlib 形式のデータを展開する
func Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("zlib read: %w", err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// EncodeText はテキストを送信用に圧縮する
func EncodeText(s string) ([]byte, error) {
	return Compress([]byte(s))
}

// DecodeText は受信データを展開し、UTF-8 テキストとして返す
func DecodeText(data []byte) (string, error) {
	out, err := Decompress(data)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", ErrInvalidUTF8
	}
	return string(out), nil
}
