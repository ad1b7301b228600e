package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultReadBufferSize は raw フレーミングで1回に読む最大バイト数
const DefaultReadBufferSize = 4096

// DefaultMaxFrameSize は length-prefixed フレーミングの最大ペイロード
const DefaultMaxFrameSize = 1 << 20

const (
	FramingRaw            = "raw"
	FramingLengthPrefixed = "length-prefixed"
)

var (
	// ErrFrameTooLarge はフレーム長が上限を超えた場合に返る
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrEmptyRead は Read が0バイトかつエラーなしで戻った場合に返る
	ErrEmptyRead = errors.New("read returned no data")
)

// Framer はストリーム上のメッセージ境界を扱う
type Framer interface {
	WriteMessage(w io.Writer, payload []byte) error
	ReadMessage(r io.Reader) ([]byte, error)
	Name() string
}

// RawFramer は長さ情報を持たない。
// 1回の Read で受け取ったバイト列を1メッセージとみなすため、分割受信や
// 複数応答の結合には対応できない。既存サーバーとの互換性のためだけに使う。
type RawFramer struct {
	BufferSize int
}

// NewRawFramer は RawFramer を作成する（0以下でデフォルトサイズ）
func NewRawFramer(bufferSize int) *RawFramer {
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	return &RawFramer{BufferSize: bufferSize}
}

// Name はフレーミング名を返す
func (f *RawFramer) Name() string { return FramingRaw }

// WriteMessage はペイロードをそのまま書き込む
func (f *RawFramer) WriteMessage(w io.Writer, payload []byte) error {
	return writeFull(w, payload)
}

// ReadMessage は1回の Read の結果を返す
func (f *RawFramer) ReadMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, f.BufferSize)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrEmptyRead
}

// LengthPrefixedFramer は4バイトのビッグエンディアン長をペイロードの前に置く
type LengthPrefixedFramer struct {
	MaxSize int
}

// NewLengthPrefixedFramer は LengthPrefixedFramer を作成する（0以下でデフォルト上限）
func NewLengthPrefixedFramer(maxSize int) *LengthPrefixedFramer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &LengthPrefixedFramer{MaxSize: maxSize}
}

// Name はフレーミング名を返す
func (f *LengthPrefixedFramer) Name() string { return FramingLengthPrefixed }

// WriteMessage は長さヘッダーとペイロードを書き込む
func (f *LengthPrefixedFramer) WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > f.MaxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), f.MaxSize)
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return writeFull(w, frame)
}

// ReadMessage は1フレームを完全に読み込む
func (f *LengthPrefixedFramer) ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(f.MaxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, f.MaxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// NewFramer は名前から Framer を作成する
func NewFramer(name string, bufferSize int) (Framer, error) {
	switch name {
	case FramingRaw, "":
		return NewRawFramer(bufferSize), nil
	case FramingLengthPrefixed:
		return NewLengthPrefixedFramer(0), nil
	default:
		return nil, fmt.Errorf("unknown framing: %s", name)
	}
}

func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
