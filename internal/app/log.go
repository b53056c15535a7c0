package app

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

// MemoryLog keeps the tail of the log for the api/log endpoint.
var MemoryLog = &memoryLog{limit: 1 << 20}

func GetLogger(module string) zerolog.Logger {
	if s, ok := modules[module]; ok {
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return Logger.Level(lvl)
		}
		Logger.Warn().Err(err).Caller().Send()
	}

	return Logger
}

// initLogger support:
// - output: empty (only to memory), stderr, stdout
// - format: empty (autodetect color support), color, json, text
// - time:   empty (disable timestamp), UNIXMS, UNIXMICRO, UNIXNANO
// - level:  disabled, trace, debug, info, warn, error...
func initLogger() {
	var cfg struct {
		Mod map[string]string `yaml:"log"`
	}

	cfg.Mod = modules // defaults

	LoadConfig(&cfg)

	var writer io.Writer

	switch modules["output"] {
	case "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	}

	timeFormat := modules["time"]

	if writer != nil {
		if format := modules["format"]; format != "json" {
			console := &zerolog.ConsoleWriter{Out: writer}

			switch format {
			case "text":
				console.NoColor = true
			case "color":
				console.NoColor = false
			default:
				// autodetect if output supports color
				console.NoColor = !isatty.IsTerminal(writer.(*os.File).Fd())
			}

			if timeFormat != "" {
				console.TimeFormat = "15:04:05.000"
			} else {
				console.PartsOrder = []string{
					zerolog.LevelFieldName,
					zerolog.CallerFieldName,
					zerolog.MessageFieldName,
				}
			}

			writer = console
		}

		writer = zerolog.MultiLevelWriter(writer, MemoryLog)
	} else {
		writer = MemoryLog
	}

	lvl, _ := zerolog.ParseLevel(modules["level"])
	Logger = zerolog.New(writer).Level(lvl)

	if timeFormat != "" {
		zerolog.TimeFieldFormat = timeFormat
		Logger = Logger.With().Timestamp().Logger()
	}
}

// per-module log levels from the `log:` config section
var modules = map[string]string{
	"format": "",
	"level":  "info",
	"output": "stdout",
	"time":   zerolog.TimeFormatUnixMs,
}

type memoryLog struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (m *memoryLog) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	m.buf = append(m.buf, p...)
	if len(m.buf) > m.limit {
		// drop the oldest half so the tail stays contiguous
		m.buf = append(m.buf[:0], m.buf[len(m.buf)-m.limit/2:]...)
	}
	m.mu.Unlock()
	return len(p), nil
}

func (m *memoryLog) WriteTo(w io.Writer) (int64, error) {
	m.mu.Lock()
	b := make([]byte, len(m.buf))
	copy(b, m.buf)
	m.mu.Unlock()

	n, err := w.Write(b)
	return int64(n), err
}

func (m *memoryLog) Reset() {
	m.mu.Lock()
	m.buf = m.buf[:0]
	m.mu.Unlock()
}
