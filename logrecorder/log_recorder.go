package logrecorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述日志输出
type Config struct {
	Level       string   `mapstructure:"level" toml:"level"`
	Format      string   `mapstructure:"format" toml:"format"` // console 或 json
	Outputs     []string `mapstructure:"outputs" toml:"outputs"`
	Development bool     `mapstructure:"development" toml:"development"`
	MaxSizeMB   int      `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups  int      `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays  int      `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress    bool     `mapstructure:"compress" toml:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Outputs:    []string{"stderr"},
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 7,
	}
}

// DirName 返回以日期命名的目录名（如：2025_04_25）
func DirName(now time.Time) string {
	return fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
}

// MakeDir 在 root 下创建以日期命名的目录
func MakeDir(root string, now time.Time) (string, error) {
	fullPath := filepath.Join(root, DirName(now))
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("创建文件夹失败: %w", err)
	}
	return fullPath, nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// rotating 返回按大小轮换的文件输出
func (c Config) rotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    max(c.MaxSizeMB, 1),
		MaxBackups: max(c.MaxBackups, 1),
		MaxAge:     max(c.MaxAgeDays, 1),
		Compress:   c.Compress,
	}
}

// NewLogger 根据配置构建 zap.Logger，文件输出通过 lumberjack 轮换。调用方负责 Sync。
func NewLogger(c Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(c.Level))

	encCfg := zap.NewProductionEncoderConfig()
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	cores := make([]zapcore.Core, 0, len(outputs))
	for _, out := range outputs {
		var ws zapcore.WriteSyncer
		switch strings.ToLower(out) {
		case "stdout":
			ws = zapcore.AddSync(os.Stdout)
		case "stderr":
			ws = zapcore.AddSync(os.Stderr)
		default:
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("log output %s: %w", out, err)
				}
			}
			ws = zapcore.AddSync(c.rotating(out))
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}
