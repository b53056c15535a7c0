package immis

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// recorder tees forwarded video bytes to a timestamped .ts file. Any I/O
// error disables recording only, live forwarding is never affected.
type recorder struct {
	mu    sync.Mutex
	f     *os.File
	path  string
	bytes atomic.Int64
	log   zerolog.Logger
}

func newRecorder(dir, serial string, log zerolog.Logger) *recorder {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warn().Err(err).Msg("[immis] recording disabled")
		return nil
	}

	stamp := strings.ReplaceAll(time.Now().Format(time.RFC3339), ":", "-")
	path := filepath.Join(dir, serial+"-"+stamp+".ts")

	f, err := os.Create(path)
	if err != nil {
		log.Warn().Err(err).Msg("[immis] recording disabled")
		return nil
	}

	log.Info().Str("path", path).Msg("[immis] recording")
	return &recorder{f: f, path: path, log: log}
}

func (r *recorder) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return
	}
	if _, err := r.f.Write(p); err != nil {
		r.log.Warn().Err(err).Str("path", r.path).Msg("[immis] recording stopped")
		_ = r.f.Close()
		r.f = nil
		return
	}
	r.bytes.Add(int64(len(p)))
}

func (r *recorder) Bytes() int64 {
	return r.bytes.Load()
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return
	}
	_ = r.f.Close()
	r.f = nil

	r.log.Debug().Str("path", r.path).Int64("bytes", r.bytes.Load()).Msg("[immis] recording closed")
}
