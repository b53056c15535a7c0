package immis

import (
	"crypto/tls"
	"io"
	"net"
	"strings"
	"time"
)

const (
	dialTimeout    = 5 * time.Second
	reconnectDelay = 2 * time.Second
	latencyPeriod  = time.Second
	keepAliveTicks = 10 // keep-alive on every 10th latency tick
)

// connectUpstream starts a single connect attempt if none is in flight and
// no link is established.
func (s *Session) connectUpstream() {
	s.mu.Lock()
	if !s.running || s.upstream != nil || s.connecting {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.mu.Unlock()

	go s.dialUpstream()
}

func (s *Session) dialUpstream() {
	s.log.Debug().Str("host", s.live.Host).Msg("[immis] connecting upstream")

	conn, err := net.DialTimeout("tcp", s.live.Host, dialTimeout)
	if err != nil {
		s.dialFailed(err)
		return
	}

	// the vendor endpoint uses self-signed certificates
	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err = tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		s.dialFailed(err)
		return
	}

	// auth header goes out exactly once, before any other traffic
	auth := BuildAuthHeader(s.cfg.Serial, s.live.ClientID, s.live.ConnID)
	if _, err = tlsConn.Write(auth); err != nil {
		_ = tlsConn.Close()
		s.dialFailed(err)
		return
	}

	s.mu.Lock()
	if !s.running {
		s.connecting = false
		s.mu.Unlock()
		_ = tlsConn.Close()
		return
	}
	s.upstream = tlsConn
	s.connecting = false
	s.stopTimers = make(chan struct{})
	stop := s.stopTimers
	s.mu.Unlock()

	s.log.Info().Str("host", s.live.Host).Msg("[immis] upstream connected")

	go s.timerLoop(tlsConn, stop)
	go s.readLoop(tlsConn)
}

func (s *Session) dialFailed(err error) {
	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()

	s.handleUpstreamError(err)
	s.reconnectOrStop()
}

// timerLoop drives the two fixed outbound timers: latency stats every second
// and a keep-alive on every 10th tick. Writes are fire-and-forget.
func (s *Session) timerLoop(conn net.Conn, stop <-chan struct{}) {
	t := time.NewTicker(latencyPeriod)
	defer t.Stop()

	var ticks int
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			// placeholder telemetry, constant sequence, zeroed payload
			_, _ = conn.Write(BuildPacket(MsgLatencyStats, 0, make([]byte, 24)))

			if ticks++; ticks%keepAliveTicks == 0 {
				_, _ = conn.Write(BuildPacket(MsgKeepAlive, s.nextSeq(), nil))
			}
		}
	}
}

// readLoop owns the receive buffer: bytes accumulate until Demux can drain
// complete frames, the tail stays for the next read.
func (s *Session) readLoop(conn net.Conn) {
	var rbuf []byte
	buf := make([]byte, 32*1024)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.recv.Add(int64(n))

			rbuf = append(rbuf, buf[:n]...)

			frames, rest, derr := Demux(rbuf)
			for i := range frames {
				s.dispatch(&frames[i])
			}
			rbuf = append(rbuf[:0], rest...)

			if derr != nil {
				// out of sync, drop the link instead of buffering forever
				err = derr
			}
		}
		if err != nil {
			s.upstreamClosed(conn, err)
			return
		}
	}
}

func (s *Session) dispatch(f *Frame) {
	switch f.Type {
	case MsgVideo:
		if len(f.Payload) == 0 || f.Payload[0] != tsSyncByte {
			s.log.Debug().Int("size", len(f.Payload)).Msg("[immis] discard non-TS video payload")
			return
		}
		s.broadcast(f.Payload)

	case MsgKeepAlive, MsgLatencyStats:
		s.log.Trace().Stringer("type", f.Type).Uint32("seq", f.Sequence).Msg("[immis] control")

	case MsgSessionMessage, MsgSessionCommand, MsgInlineCommand, MsgAccessoryMessage:
		// no semantic action yet, kept visible for protocol work
		s.log.Debug().Stringer("type", f.Type).Int("size", len(f.Payload)).Msg("[immis] unhandled message")

	default:
		s.log.Debug().Stringer("type", f.Type).Msg("[immis] unknown message type")
	}
}

// upstreamClosed handles the end of an established link: either schedules a
// reconnect (clients still watching) or stops the session.
func (s *Session) upstreamClosed(conn net.Conn, err error) {
	_ = conn.Close()

	s.mu.Lock()
	if s.upstream != conn {
		// already replaced or torn down
		s.mu.Unlock()
		return
	}
	s.upstream = nil
	if s.stopTimers != nil {
		close(s.stopTimers)
		s.stopTimers = nil
	}
	s.mu.Unlock()

	s.handleUpstreamError(err)
	s.reconnectOrStop()
}

func (s *Session) handleUpstreamError(err error) {
	if err == nil || err == io.EOF || isBenignClose(err) {
		return
	}
	s.log.Warn().Err(err).Msg("[immis] upstream")
	s.fire(Event{Type: EventError, Err: err})
}

func (s *Session) reconnectOrStop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if len(s.clients) == 0 {
		s.mu.Unlock()
		_ = s.Stop()
		return
	}

	// at most one reconnect timer alive
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.reconnect = time.AfterFunc(reconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		ok := s.running && len(s.clients) > 0
		s.mu.Unlock()

		if ok {
			s.fire(Event{Type: EventReconnect})
			s.connectUpstream()
		}
	})
	s.mu.Unlock()

	s.log.Debug().Dur("delay", reconnectDelay).Msg("[immis] reconnect scheduled")
}

// isBenignClose - normal artifact of abrupt TLS teardown, or our own Stop
// closing the socket under the read loop.
func isBenignClose(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "application data after close notify") ||
		strings.Contains(msg, "use of closed network connection")
}
