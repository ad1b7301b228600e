package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel は文字列からログレベルを取得する
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// FileConfig はローテーション付きファイル出力の設定
type FileConfig struct {
	Path       string // 出力先ファイル
	MaxSizeMB  int    // ローテーションサイズ（MB）
	MaxBackups int    // 保持する世代数
	MaxAgeDays int    // 保持日数
	Compress   bool   // 古いファイルをgzip圧縮する
}

// Logger はzapをラップしたスレッドセーフなロガー
type Logger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(zapcore.AddSync(out)), level)
	return newLogger(level, core)
}

// NewWithFile はコンソールとローテーションファイルの両方に出力するロガーを作成する
func NewWithFile(out io.Writer, minLevel Level, fc FileConfig) *Logger {
	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	encoder := zapcore.NewConsoleEncoder(encoderConfig())

	rotate := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB, // megabytes
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays, // days
		Compress:   fc.Compress,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), level),
		zapcore.NewCore(encoder, zapcore.AddSync(rotate), level),
	)
	return newLogger(level, core)
}

func newLogger(level zap.AtomicLevel, core zapcore.Core) *Logger {
	// log とその呼び出し元（メソッドまたはパッケージ関数）の2段を飛ばす
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return &Logger{
		level: level,
		sugar: z.Sugar(),
	}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Sync はバッファされたログを書き出す
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, clientID string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	var kv []any
	if clientID != "" {
		kv = []any{"client", clientID}
	}

	switch level {
	case LevelDebug:
		l.sugar.Debugw(msg, kv...)
	case LevelInfo:
		l.sugar.Infow(msg, kv...)
	case LevelWarn:
		l.sugar.Warnw(msg, kv...)
	default:
		l.sugar.Errorw(msg, kv...)
	}
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(clientID string, format string, args ...any) {
	l.log(LevelDebug, clientID, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(clientID string, format string, args ...any) {
	l.log(LevelInfo, clientID, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(clientID string, format string, args ...any) {
	l.log(LevelWarn, clientID, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(clientID string, format string, args ...any) {
	l.log(LevelError, clientID, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// SetDefault はデフォルトロガーを差し替える
func SetDefault(l *Logger) {
	Default = l
}

// Debug はデバッグログを出力する
func Debug(clientID string, format string, args ...any) {
	Default.log(LevelDebug, clientID, format, args...)
}

// Info は情報ログを出力する
func Info(clientID string, format string, args ...any) {
	Default.log(LevelInfo, clientID, format, args...)
}

// Warn は警告ログを出力する
func Warn(clientID string, format string, args ...any) {
	Default.log(LevelWarn, clientID, format, args...)
}

// Error はエラーログを出力する
func Error(clientID string, format string, args ...any) {
	Default.log(LevelError, clientID, format, args...)
}
