package logger

import (
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"signalflow/conf"
)

// 基于zap的统一日志，日志文件由lumberjack负责滚动

var lg *zap.Logger

func init() {
	// 未调用Init前的兜底，保证库内日志可用
	lg, _ = zap.NewProduction(zap.AddCallerSkip(1))
}

// Field 结构化日志键值对
type Field = zap.Field

// Pair 构造一个键值对字段
func Pair(key string, value interface{}) Field {
	return zap.Any(key, value)
}

func Init(cfg conf.LogConfig) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if cfg.FileName != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, level))
	}
	if cfg.Console || cfg.FileName == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	lg = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

func Sync() {
	_ = lg.Sync()
}

func Debug(msg string, fields ...Field) { lg.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { lg.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { lg.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { lg.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { lg.Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { lg.Sugar().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { lg.Sugar().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { lg.Sugar().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { lg.Sugar().Errorf(format, args...) }
