package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	mu      sync.Mutex
	logFile *os.File
	debug   bool
)

// Init routes the standard logger to stderr and, when logPath is set, to an
// appended log file as well. Stdout stays reserved for benchmark output.
func Init(logPath string, debugEnabled bool) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	debug = debugEnabled

	var writers []io.Writer
	writers = append(writers, os.Stderr)

	if logPath != "" {
		if dir := filepath.Dir(logPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile = file
		writers = append(writers, logFile)
	}

	log.SetOutput(io.MultiWriter(writers...))
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	debug = false
	if logFile == nil {
		return nil
	}
	log.SetOutput(os.Stderr)
	err := logFile.Close()
	logFile = nil
	return err
}

// DebugEnabled reports whether Init was called with debug logging on.
func DebugEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return debug
}

func LogEvent(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Println(msg)
}

// LogDebug is LogEvent gated on the debug flag.
func LogDebug(format string, args ...any) {
	if !DebugEnabled() {
		return
	}
	log.Println("[DEBUG] " + fmt.Sprintf(format, args...))
}

// LogRequest records one worker frame. Frames are only written in debug
// mode because tensor payload metadata gets noisy.
func LogRequest(direction, method, handle string, payload any) {
	if !DebugEnabled() {
		return
	}
	log.Println(buildRequestMessage(direction, method, handle, payload))
}

func buildRequestMessage(direction, method, handle string, payload any) string {
	dir := strings.TrimSpace(direction)
	if dir != "" {
		dir = strings.ToUpper(dir)
	}
	methodValue := strings.TrimSpace(method)
	if methodValue == "" {
		methodValue = "unknown"
	}
	parts := []string{fmt.Sprintf("[%s]", dir)}
	parts = append(parts, fmt.Sprintf("method=%s", methodValue))
	if handle = strings.TrimSpace(handle); handle != "" {
		parts = append(parts, fmt.Sprintf("handle=%s", handle))
	}
	parts = append(parts, fmt.Sprintf("payload=%s", formatPayload(payload)))
	return strings.Join(parts, " ")
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		if strings.TrimSpace(v) == "" {
			return `""`
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "[]"
		}
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
