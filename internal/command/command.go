// Package command defines the commands the load client sends and the
// weighted generator that produces them.
package command

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind はコマンドの種別
type Kind int

const (
	KindGet Kind = iota
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

const (
	getPrefix = "$get "
	setPrefix = "$set "

	// MinValue と MaxValue は Set で送る値の範囲（両端を含む）
	MinValue = 1
	MaxValue = 100
)

// DefaultKeys はサーバーに問い合わせるキーの集合
var DefaultKeys = []string{"tree", "sky", "grass", "cloud", "flower"}

// DefaultGetRatio は Get を生成する確率
const DefaultGetRatio = 0.99

// ErrMalformed はコマンド文字列が文法に合わない場合に返る
var ErrMalformed = errors.New("malformed command")

// Command は Get または Set のコマンド
type Command struct {
	Kind  Kind
	Key   string
	Value int // Set のときのみ有効
}

// Get は Get コマンドを作成する
func Get(key string) Command {
	return Command{Kind: KindGet, Key: key}
}

// Set は Set コマンドを作成する
func Set(key string, value int) Command {
	return Command{Kind: KindSet, Key: key, Value: value}
}

// String はワイヤ上のテキスト表現を返す
func (c Command) String() string {
	if c.Kind == KindSet {
		return setPrefix + c.Key + "=" + strconv.Itoa(c.Value)
	}
	return getPrefix + c.Key
}

// Parse はテキスト表現をコマンドに戻す
func Parse(line string) (Command, error) {
	switch {
	case strings.HasPrefix(line, getPrefix):
		key := line[len(getPrefix):]
		if !validKey(key) {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		return Get(key), nil
	case strings.HasPrefix(line, setPrefix):
		key, raw, ok := strings.Cut(line[len(setPrefix):], "=")
		if !ok || !validKey(key) {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Command{}, fmt.Errorf("%w: value %q: %v", ErrMalformed, raw, err)
		}
		return Set(key, value), nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
}

func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, " =\r\n")
}

// Generator は重み付きでランダムなコマンドを生成する。
// 単一のゴルーチンから使うこと。
type Generator struct {
	rng      *rand.Rand
	keys     []string
	getRatio float64
}

// NewGenerator は新しい Generator を作成する。
// keys が空なら DefaultKeys、getRatio が範囲外なら DefaultGetRatio を使う。
func NewGenerator(seed int64, keys []string, getRatio float64) *Generator {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	if getRatio < 0 || getRatio > 1 {
		getRatio = DefaultGetRatio
	}
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		keys:     slices.Clone(keys),
		getRatio: getRatio,
	}
}

// NewDefaultGenerator は時刻をシードにしたデフォルト設定の Generator を作成する
func NewDefaultGenerator() *Generator {
	return NewGenerator(time.Now().UnixNano(), DefaultKeys, DefaultGetRatio)
}

// Next は次のコマンドを返す
func (g *Generator) Next() Command {
	key := g.keys[g.rng.Intn(len(g.keys))]
	if g.rng.Float64() < g.getRatio {
		return Get(key)
	}
	return Set(key, MinValue+g.rng.Intn(MaxValue-MinValue+1))
}

// Keys は生成対象のキーを返す
func (g *Generator) Keys() []string {
	return slices.Clone(g.keys)
}
