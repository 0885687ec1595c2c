package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Options controls where a Logger writes. An empty Dir disables the JSON file.
type Options struct {
	Dir      string
	Service  string
	Terminal io.Writer
	MinLevel LogLevel
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	logFile  *os.File
	minLevel LogLevel
	exit     func(int)
}

func NewLogger(opts Options) *Logger {
	if opts.Terminal == nil {
		opts.Terminal = os.Stdout
	}
	if opts.Service == "" {
		opts.Service = "reservation-service"
	}

	l := &Logger{
		terminal: opts.Terminal,
		minLevel: opts.MinLevel,
		exit:     os.Exit,
	}

	if opts.Dir == "" {
		return l
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		l.Warn("LOGGER", fmt.Sprintf("Failed to create log directory %s, logging to terminal only: %v", opts.Dir, err))
		return l
	}

	logFileName := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", opts.Service, time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		l.Warn("LOGGER", fmt.Sprintf("Failed to open log file %s, logging to terminal only: %v", logFileName, err))
		return l
	}
	l.logFile = logFile

	l.Info("LOGGER", fmt.Sprintf("Log file: %s", logFileName))
	return l
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{terminal: io.Discard, minLevel: FATAL + 1, exit: func(int) {}}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.terminal, formatTerminal(level, entry))
	if l.logFile != nil {
		if line, err := json.Marshal(entry); err == nil {
			l.logFile.Write(append(line, '\n'))
		}
	}
}

type palette struct {
	level    *color.Color
	category *color.Color
}

var palettes = map[LogLevel]palette{
	DEBUG: {color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	INFO:  {color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	WARN:  {color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	ERROR: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
	FATAL: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
}

var (
	timeColor   = color.New(color.FgBlue)
	sourceColor = color.New(color.FgMagenta)
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (lv LogLevel) String() string {
	if name, ok := levelNames[lv]; ok {
		return name
	}
	return "INFO"
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	for lv, n := range levelNames {
		if strings.EqualFold(n, name) {
			return lv
		}
	}
	return INFO
}

func formatTerminal(level LogLevel, entry LogEntry) string {
	p, ok := palettes[level]
	if !ok {
		p = palettes[INFO]
	}

	var b strings.Builder
	b.WriteString(timeColor.Sprint(entry.Timestamp[11:19]))
	b.WriteByte(' ')
	b.WriteString(p.level.Sprintf("%-5s", entry.Level))
	b.WriteByte(' ')
	b.WriteString(p.category.Sprintf("[%-11s]", entry.Category))
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if entry.File != "" && entry.Line > 0 {
		b.WriteString(sourceColor.Sprintf(" (%s:%d)", entry.File, entry.Line))
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	l.exit(1)
}

// Specialized logging methods for different components
func (l *Logger) LogReservation(action, reservationID, message string) {
	l.Info("RESERVATION", fmt.Sprintf("[%s] %s - %s", action, reservationID, message))
}

func (l *Logger) LogReaper(action, message string) {
	l.Info("REAPER", fmt.Sprintf("[%s] %s", action, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.Info("API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.Info("KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.Info("DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l == nil || l.logFile == nil {
		return
	}
	l.Info("LOGGER", "Closing log file")
	l.mu.Lock()
	l.logFile.Close()
	l.logFile = nil
	l.mu.Unlock()
}
