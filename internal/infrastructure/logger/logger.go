package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/config"
)

const timestampFormat = "2006-01-02 15:04:05"

// 全局日志实例
var log = logrus.New()

// frameLog 报文日志，只记录收到的原始报文与解析结论
var frameLog = logrus.New()

var hexDump bool

func init() {
	frameLog.SetOutput(io.Discard)
}

// Init 初始化日志系统
func Init(cfg *config.LoggerConfig) error {
	// 1. 日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %s, %w", cfg.Level, err)
	}
	log.SetLevel(level)
	hexDump = cfg.LogHexDump

	// 2. 日志格式
	log.SetFormatter(formatter(cfg.Format, cfg.EnableConsole && cfg.FilePath == ""))

	// 3. 输出：文件按大小轮转，可同时输出到控制台
	writers := make([]io.Writer, 0, 2)
	if cfg.EnableConsole || cfg.FilePath == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.FilePath != "" {
		w, err := rotatingWriter(cfg, cfg.FilePath)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}
	log.SetOutput(io.MultiWriter(writers...))

	// 4. 报文日志
	if cfg.FrameLogPath != "" {
		w, err := rotatingWriter(cfg, cfg.FrameLogPath)
		if err != nil {
			return err
		}
		frameLog.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
			DisableColors:   true,
		})
		frameLog.SetLevel(logrus.InfoLevel)
		frameLog.SetOutput(w)
	}
	return nil
}

func formatter(format string, colors bool) logrus.Formatter {
	if strings.ToLower(format) == "json" {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
		ForceColors:     colors,
	}
}

func rotatingWriter(cfg *config.LoggerConfig, path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

// GetLogger 获取全局日志实例
func GetLogger() *logrus.Logger {
	return log
}

// Debug 输出Debug级别日志
func Debug(args ...interface{}) {
	log.Debug(args...)
}

// Debugf 格式化输出Debug级别日志
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Info 输出Info级别日志
func Info(args ...interface{}) {
	log.Info(args...)
}

// Infof 格式化输出Info级别日志
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warn 输出Warn级别日志
func Warn(args ...interface{}) {
	log.Warn(args...)
}

// Warnf 格式化输出Warn级别日志
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Error 输出Error级别日志
func Error(args ...interface{}) {
	log.Error(args...)
}

// Errorf 格式化输出Error级别日志
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Fatal 输出Fatal级别日志
func Fatal(args ...interface{}) {
	log.Fatal(args...)
}

// Fatalf 格式化输出Fatal级别日志
func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

// WithField 添加字段到日志
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// WithFields 添加多个字段到日志
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// HexDump 记录二进制数据的十六进制表示（仅当配置开启且日志级别为Debug时）
func HexDump(message string, data []byte) {
	if hexDump && log.IsLevelEnabled(logrus.DebugLevel) {
		log.WithField("hex_data", fmt.Sprintf("% X", data)).Debug(message)
	}
}

// LogFrame 写入报文日志
func LogFrame(source, protocol, hexText string, fields int, diagnostics int) {
	frameLog.WithFields(logrus.Fields{
		"source":      source,
		"protocol":    protocol,
		"fields":      fields,
		"diagnostics": diagnostics,
	}).Info(hexText)
}
