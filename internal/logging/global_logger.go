// Package logging configures the process-wide logrus logger used by the
// library and the example CLI. It installs a compact bracketed formatter and
// can mirror output into a size-rotated log file.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// LogFormatter defines a custom log format for logrus.
// Format: [2026-08-24 20:14:04] [a1b2c3d4] [debug] [manager.go:142] message key=value
type LogFormatter struct{}

// logFieldOrder defines the display order for common log fields.
var logFieldOrder = []string{"instance", "state", "status", "path", "stream", "error"}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	var formatted string
	if entry.Caller != nil {
		formatted = fmt.Sprintf("[%s] [%s] [%s] [%s:%d] %s%s\n",
			timestamp, reqID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] [%s] %s%s\n", timestamp, reqID, levelStr, message, fieldsStr)
	}

	buffer.WriteString(formatted)
	return buffer.Bytes(), nil
}

// SetupBaseLogger installs the custom formatter and default level on the
// global logrus logger. Safe to call multiple times; only the first call has
// an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetFormatter(&LogFormatter{})
		log.SetReportCaller(true)
		log.SetLevel(log.InfoLevel)
		log.SetOutput(os.Stderr)
	})
}

// SetDebug toggles debug-level logging.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// EnableFileOutput mirrors log output into a size-rotated file under dir.
// Passing an empty dir disables file output and reverts to stderr only.
func EnableFileOutput(dir string) error {
	writerMu.Lock()
	defer writerMu.Unlock()

	if dir == "" {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("logging: create log dir failed: %w", err)
	}

	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "masto.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, logWriter))
	return nil
}
