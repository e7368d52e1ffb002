package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// baseLogFile 基础日志文件路径（配置中的原始路径）
	baseLogFile string
	// savedConfig 保存的日志配置（用于日志轮转）
	savedConfig Config
	// currentPeriod 当前周期时间戳
	currentPeriod int64
	// currentMarketSlug 当前监控市场的 slug（如 btc-updown-5m-1766000100）
	// 设置后日志文件按 slug 命名，一个市场周期一个文件
	currentMarketSlug string
	// currentMarketTimestamp 当前市场周期时间戳（从市场 slug 提取）
	currentMarketTimestamp int64
	// logMu 日志文件切换锁
	logMu sync.Mutex
	// cycleDuration 周期时长（默认5分钟）
	cycleDuration = 5 * time.Minute
)

// Config 日志配置
type Config struct {
	Level         string        // 日志级别: debug, info, warn, error
	OutputFile    string        // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize       int           // 日志文件最大大小（MB）
	MaxBackups    int           // 保留的旧日志文件数量
	MaxAge        int           // 保留旧日志文件的天数
	Compress      bool          // 是否压缩旧日志文件
	LogByCycle    bool          // 是否按市场周期命名日志文件
	CycleDuration time.Duration // 周期时长
}

// getCurrentPeriod 获取当前周期的时间戳
// 如果设置了市场周期时间戳，优先使用；否则按周期时长对齐
func getCurrentPeriod(cycleDuration time.Duration) int64 {
	if currentMarketTimestamp > 0 {
		return currentMarketTimestamp
	}
	now := time.Now()
	periodStart := now.Truncate(cycleDuration)
	return periodStart.Unix()
}

// SetMarketCycle 设置当前市场周期（slug 和起始时间戳）
// 例如：eth-updown-5m-1766000100 -> ("eth-updown-5m-1766000100", 1766000100)
func SetMarketCycle(slug string, timestamp int64) {
	logMu.Lock()
	defer logMu.Unlock()
	currentMarketSlug = slug
	currentMarketTimestamp = timestamp
}

// getLogFileName 根据周期生成日志文件名
func getLogFileName(basePath string, period int64) string {
	// 设置了市场 slug 时直接用 slug 命名：{slug}.log
	if currentMarketSlug != "" && period == currentMarketTimestamp {
		dir := filepath.Dir(basePath)
		ext := filepath.Ext(basePath)

		logFileName := currentMarketSlug + ext
		if dir == "." || dir == "" {
			return logFileName
		}
		return filepath.Join(dir, logFileName)
	}

	// 否则使用日期时间格式：logs/2025-12-17_22-30.log
	periodTime := time.Unix(period, 0)
	periodStr := periodTime.Format("2006-01-02_15-04")

	dir := filepath.Dir(basePath)
	baseName := filepath.Base(basePath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := baseName[:len(baseName)-len(ext)]

	if dir == "." || dir == "" {
		return fmt.Sprintf("%s_%s%s", nameWithoutExt, periodStr, ext)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", nameWithoutExt, periodStr, ext))
}

func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	}
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if config.OutputFile != "" {
		var logFilePath string

		baseLogFile = config.OutputFile
		savedConfig = config

		if config.LogByCycle {
			if config.CycleDuration == 0 {
				config.CycleDuration = cycleDuration
			}
			cycleDuration = config.CycleDuration
			period := getCurrentPeriod(config.CycleDuration)
			currentPeriod = period
			logFilePath = getLogFileName(config.OutputFile, period)
		} else {
			logFilePath = config.OutputFile
		}

		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return err
		}

		fileWriter := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, fileWriter)
		currentLogFile = logFilePath
	}

	multiWriter := io.MultiWriter(writers...)
	logger.SetOutput(multiWriter)

	// 同时设置全局 logrus 的输出，确保组件里 logrus.WithField() 创建的
	// logger 也能写入同一个文件
	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = logger
	return nil
}

// CheckAndRotateLog 检查并切换日志文件（如果周期变化）
func CheckAndRotateLog(config Config) error {
	return CheckAndRotateLogWithForce(config, false)
}

// CheckAndRotateLogWithForce 检查并切换日志文件（如果周期变化或强制切换）
// 轮转监控到新市场后调用，带 forceRotate=true
func CheckAndRotateLogWithForce(config Config, forceRotate bool) error {
	if !config.LogByCycle {
		return nil
	}

	logMu.Lock()
	defer logMu.Unlock()

	basePath := config.OutputFile
	if basePath == "" {
		basePath = baseLogFile
	}
	if basePath == "" {
		return nil
	}

	mergedConfig := savedConfig
	if config.Level != "" {
		mergedConfig.Level = config.Level
	}
	if config.CycleDuration > 0 {
		mergedConfig.CycleDuration = config.CycleDuration
	}
	if config.MaxSize > 0 {
		mergedConfig.MaxSize = config.MaxSize
	}
	if config.MaxBackups > 0 {
		mergedConfig.MaxBackups = config.MaxBackups
	}
	if config.MaxAge > 0 {
		mergedConfig.MaxAge = config.MaxAge
	}

	period := getCurrentPeriod(mergedConfig.CycleDuration)

	shouldRotate := forceRotate || period != currentPeriod ||
		(currentMarketTimestamp > 0 && period != currentMarketTimestamp)
	if !shouldRotate {
		return nil
	}

	logFilePath := getLogFileName(basePath, period)
	if logFilePath == currentLogFile && !forceRotate {
		return nil
	}

	oldLogFile := currentLogFile
	currentPeriod = period

	// 切换过程中 Logger 可能不可用，用 fmt 记录
	if oldLogFile != "" {
		fmt.Printf("[日志切换] %s -> %s (slug=%s, period=%d)\n",
			oldLogFile, logFilePath, currentMarketSlug, period)
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(mergedConfig.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	logDir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    mergedConfig.MaxSize,
		MaxBackups: mergedConfig.MaxBackups,
		MaxAge:     mergedConfig.MaxAge,
		Compress:   mergedConfig.Compress,
	}
	writers = append(writers, fileWriter)
	currentLogFile = logFilePath

	multiWriter := io.MultiWriter(writers...)
	logger.SetOutput(multiWriter)

	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = logger
	Logger.Infof("日志文件已切换到新周期: %s", logFilePath)
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:         "info",
		OutputFile:    "logs/diparb.log",
		MaxSize:       100,
		MaxBackups:    3,
		MaxAge:        7,
		Compress:      true,
		LogByCycle:    true,
		CycleDuration: 5 * time.Minute,
	})
}

// StartLogRotationChecker 启动日志轮转检查器（后台任务）
func StartLogRotationChecker(config Config) {
	if !config.LogByCycle || config.OutputFile == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			if err := CheckAndRotateLog(config); err != nil {
				if Logger != nil {
					Logger.Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
