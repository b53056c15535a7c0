package immis

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type EventType byte

const (
	EventReady EventType = iota + 1 // local listener is up, URL advertised
	EventData                       // raw MPEG-TS bytes forwarded to clients
	EventError                      // non-fatal transport error
	EventClosed                     // session fully stopped
	EventReconnect                  // upstream reconnect attempt fired
	EventClients                    // local client count changed
)

// Event - typed notification from a Session. Data is only valid for the
// duration of the callback.
type Event struct {
	Type    EventType
	URL     string
	Data    []byte
	Err     error
	Clients int
}

type EventFunc func(ev Event)

type Config struct {
	URL    string // immis:// liveview URL from the vendor REST API
	Serial string // device serial, padded into the auth header

	BindHost string // local bind host, default 127.0.0.1
	BindPort int    // 0 = OS-assigned

	RecordDir string // optional debug recording of forwarded TS bytes

	// Ready defers the first upstream connect until the vendor confirms the
	// liveview command. Receives nil (or closes) on success. A failure is
	// logged and treated as success. Nil channel = connect immediately.
	Ready <-chan error

	Log zerolog.Logger
}

// Session proxies one IMMIS liveview: a single upstream TLS link fanned out
// to any number of local TCP clients. Created via NewSession, runs between
// Start and Stop, owns all its sockets and timers.
type Session struct {
	cfg  Config
	live *Liveview
	log  zerolog.Logger

	mu         sync.Mutex
	running    bool
	gateOpen   bool // readiness gate satisfied
	ln         net.Listener
	localURL   string
	clients    map[net.Conn]struct{}
	upstream   net.Conn
	connecting bool
	seq        uint32 // keep-alive / session-outbound sequence
	reconnect  *time.Timer
	stopTimers chan struct{}
	rec        *recorder
	audioSrc   <-chan []byte

	recv      atomic.Int64 // bytes received from upstream
	forwarded atomic.Int64 // TS bytes broadcast to clients

	listeners []EventFunc
}

func NewSession(cfg Config) *Session {
	return &Session{
		cfg:     cfg,
		log:     cfg.Log,
		clients: map[net.Conn]struct{}{},
	}
}

// Listen registers an event callback. Must be called before Start.
func (s *Session) Listen(f EventFunc) {
	s.listeners = append(s.listeners, f)
}

func (s *Session) fire(ev Event) {
	for _, f := range s.listeners {
		f(ev)
	}
}

// Start binds the local listener and returns the advertised tcp:// URL.
// The upstream connect is triggered by the first client (and, when a Ready
// channel is configured, deferred until it resolves).
func (s *Session) Start() (string, error) {
	live, err := ParseLiveview(s.cfg.URL)
	if err != nil {
		return "", err
	}

	host := s.cfg.BindHost
	if host == "" {
		host = "127.0.0.1"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(s.cfg.BindPort)))
	if err != nil {
		return "", err
	}

	port := ln.Addr().(*net.TCPAddr).Port
	localURL := "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))

	var rec *recorder
	if s.cfg.RecordDir != "" {
		rec = newRecorder(s.cfg.RecordDir, s.cfg.Serial, s.log)
	}

	s.mu.Lock()
	s.live = live
	s.ln = ln
	s.localURL = localURL
	s.running = true
	s.gateOpen = s.cfg.Ready == nil
	s.rec = rec
	s.mu.Unlock()

	go s.accept(ln)

	if s.cfg.Ready != nil {
		go s.waitReady(s.cfg.Ready)
	}

	s.log.Info().Str("url", localURL).Str("serial", s.cfg.Serial).Msg("[immis] serving")
	s.fire(Event{Type: EventReady, URL: localURL})

	return localURL, nil
}

// Serving reports whether the session is between Start and Stop.
func (s *Session) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// URL returns the advertised tcp:// URL, empty before Start.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localURL
}

// Clients returns the current local client count.
func (s *Session) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

type Info struct {
	URL       string `json:"url"`
	Serial    string `json:"serial"`
	Clients   int    `json:"clients"`
	Recv      int64  `json:"recv"`
	Forwarded int64  `json:"forwarded"`
	Recorded  int64  `json:"recorded,omitempty"`
	Upstream  bool   `json:"upstream"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		URL:       s.localURL,
		Serial:    s.cfg.Serial,
		Clients:   len(s.clients),
		Upstream:  s.upstream != nil,
		Recv:      s.recv.Load(),
		Forwarded: s.forwarded.Load(),
	}
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		info.Recorded = rec.Bytes()
	}
	return info
}

// Stop tears the whole session down: reconnect timer, keep-alive timers,
// upstream link, client sockets, listener, recording. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false

	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.stopTimers != nil {
		close(s.stopTimers)
		s.stopTimers = nil
	}

	up := s.upstream
	s.upstream = nil
	rec := s.rec
	s.rec = nil
	clients := s.clients
	s.clients = map[net.Conn]struct{}{}

	// close the listener before the running flag becomes observable
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	s.mu.Unlock()

	if up != nil {
		_ = up.Close()
	}
	for c := range clients {
		_ = c.Close()
	}
	if rec != nil {
		rec.Close()
	}

	s.log.Info().Str("serial", s.cfg.Serial).Msg("[immis] closed")
	s.fire(Event{Type: EventClosed})
	return nil
}

func (s *Session) waitReady(ready <-chan error) {
	err := <-ready

	s.mu.Lock()
	if !s.running || s.gateOpen {
		s.mu.Unlock()
		return
	}
	s.gateOpen = true
	connect := len(s.clients) > 0
	s.mu.Unlock()

	if err != nil {
		// never block the stream on a failed command, proceed anyway
		s.log.Warn().Err(err).Msg("[immis] command ready failed")
	}

	if connect {
		s.connectUpstream()
	}
}

func (s *Session) accept(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.addClient(conn)
	}
}

func (s *Session) addClient(conn net.Conn) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	connect := s.gateOpen
	s.mu.Unlock()

	s.log.Debug().Stringer("addr", conn.RemoteAddr()).Int("clients", n).Msg("[immis] client connected")
	s.fire(Event{Type: EventClients, Clients: n})

	go s.watchClient(conn)

	if connect {
		s.connectUpstream()
	}
}

// watchClient drains the client socket just to observe its close. Consumers
// never send anything meaningful.
func (s *Session) watchClient(conn net.Conn) {
	b := make([]byte, 1024)
	for {
		if _, err := conn.Read(b); err != nil {
			break
		}
	}
	s.removeClient(conn)
}

func (s *Session) removeClient(conn net.Conn) {
	s.mu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, conn)
	n := len(s.clients)
	last := s.running && n == 0
	s.mu.Unlock()

	_ = conn.Close()

	s.log.Debug().Int("clients", n).Msg("[immis] client disconnected")
	s.fire(Event{Type: EventClients, Clients: n})

	// the whole session lives only while someone is watching
	if last {
		_ = s.Stop()
	}
}

// broadcast fans a validated TS payload out to every client, the recording
// sidecar and the event listeners.
func (s *Session) broadcast(payload []byte) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	var dead []net.Conn
	for c := range s.clients {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := c.Write(payload); err != nil {
			dead = append(dead, c)
		}
	}
	rec := s.rec
	s.mu.Unlock()

	s.forwarded.Add(int64(len(payload)))

	if rec != nil {
		rec.Write(payload)
	}

	s.fire(Event{Type: EventData, Data: payload})

	for _, c := range dead {
		s.removeClient(c)
	}
}

func (s *Session) nextSeq() uint32 {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return seq
}
