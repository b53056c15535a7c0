package proxy

import (
	"errors"
	"strings"
	"sync"

	"github.com/camkit/immis2tcp/internal/api"
	"github.com/camkit/immis2tcp/internal/app"
	"github.com/camkit/immis2tcp/pkg/immis"
	"github.com/camkit/immis2tcp/pkg/vigil"
	"github.com/rs/zerolog"
)

type Camera struct {
	URL       string `yaml:"url"`    // immis:// liveview URL or vigil:// cloud source
	Serial    string `yaml:"serial"` // required for immis:// sources
	BindHost  string `yaml:"bind_host"`
	BindPort  int    `yaml:"bind_port"`
	RecordDir string `yaml:"record_dir"`
}

func Init() {
	var cfg struct {
		Mod struct {
			Cameras map[string]Camera `yaml:"cameras"`
		} `yaml:"proxy"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("proxy")
	cameras = cfg.Mod.Cameras

	api.HandleFunc("api/proxy", apiProxy)
	api.HandleFunc("api/proxy.ts", apiProxyTS)
	api.HandleFunc("api/proxy.ws", apiProxyWS)

	log.Info().Int("cameras", len(cameras)).Msg("[proxy] init")
}

// Subscribe registers a hook for session events of every camera. Must be
// called during startup, before any session exists.
func Subscribe(f func(camera string, ev immis.Event)) {
	subscribers = append(subscribers, f)
}

var log zerolog.Logger
var cameras map[string]Camera
var subscribers []func(camera string, ev immis.Event)

var mu sync.Mutex
var sessions = map[string]*immis.Session{}

// GetSession returns the running session for a configured camera, starting
// one on first use. Sessions stop themselves when their last client leaves,
// the next consumer simply starts a fresh one.
func GetSession(name string) (*immis.Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if sess, ok := sessions[name]; ok && sess.Serving() {
		return sess, nil
	}

	cam, ok := cameras[name]
	if !ok {
		return nil, errors.New("proxy: unknown camera: " + name)
	}

	cfg := immis.Config{
		URL:       cam.URL,
		Serial:    cam.Serial,
		BindHost:  cam.BindHost,
		BindPort:  cam.BindPort,
		RecordDir: cam.RecordDir,
		Log:       app.GetLogger("immis"),
	}

	// cloud sources resolve to a liveview URL plus a readiness gate
	if strings.HasPrefix(cam.URL, "vigil://") {
		live, ready, err := vigil.Resolve(cam.URL)
		if err != nil {
			return nil, err
		}
		cfg.URL = live.URL
		cfg.Ready = ready
		if cfg.Serial == "" {
			cfg.Serial = live.Serial
		}
	}

	sess := immis.NewSession(cfg)
	sess.Listen(func(ev immis.Event) { onEvent(name, ev) })
	for _, f := range subscribers {
		f := f
		sess.Listen(func(ev immis.Event) { f(name, ev) })
	}

	if _, err := sess.Start(); err != nil {
		return nil, err
	}

	sessions[name] = sess
	return sess, nil
}

func onEvent(name string, ev immis.Event) {
	switch ev.Type {
	case immis.EventData:
		api.VideoBytesTotal.Add(float64(len(ev.Data)))
		api.VideoFramesTotal.Inc()
	case immis.EventClients:
		api.ActiveClients.Set(float64(totalClients()))
	case immis.EventReconnect:
		api.ReconnectsTotal.Inc()
	case immis.EventClosed:
		api.ActiveClients.Set(float64(totalClients()))
		mu.Lock()
		if sessions[name] != nil && !sessions[name].Serving() {
			delete(sessions, name)
		}
		mu.Unlock()
		log.Info().Str("camera", name).Msg("[proxy] session closed")
	case immis.EventError:
		log.Warn().Err(ev.Err).Str("camera", name).Msg("[proxy] session")
	}
}

func totalClients() (n int) {
	mu.Lock()
	for _, sess := range sessions {
		n += sess.Clients()
	}
	mu.Unlock()
	return
}
