package immis

import "errors"

// Experimental audio uplink. Chunks must already be demuxed into complete
// LATM frames (pkg/latm), each one is wrapped in a SESSION_MESSAGE packet.
// The command payload schema is unconfirmed vendor behavior.

const (
	audioStartCommand = 3
	audioStopCommand  = 4
)

// AttachAudioInput wires an external source of LATM frames into the session.
// Re-attaching the same channel is a no-op. Chunks arriving while the
// upstream is disconnected are dropped, nothing is buffered across
// reconnects.
func (s *Session) AttachAudioInput(src <-chan []byte) {
	s.mu.Lock()
	if s.audioSrc == src {
		s.mu.Unlock()
		return
	}
	s.audioSrc = src
	s.mu.Unlock()

	go s.audioLoop(src)
}

func (s *Session) audioLoop(src <-chan []byte) {
	for chunk := range src {
		s.mu.Lock()
		if s.audioSrc != src || !s.running {
			s.mu.Unlock()
			return
		}
		conn := s.upstream
		s.seq++
		pkt := BuildPacket(MsgSessionMessage, s.seq, chunk)
		s.mu.Unlock()

		if conn == nil {
			continue
		}
		_, _ = conn.Write(pkt)
	}
}

// StartAudio signals uplink intent to the vendor server.
func (s *Session) StartAudio() error {
	return s.sendAudioCommand(audioStartCommand)
}

func (s *Session) StopAudio() error {
	return s.sendAudioCommand(audioStopCommand)
}

// sendAudioCommand sends a zero-payload SESSION_COMMAND carrying the command
// identifier in the sequence field.
func (s *Session) sendAudioCommand(id uint32) error {
	s.mu.Lock()
	conn := s.upstream
	s.mu.Unlock()

	if conn == nil {
		return errors.New("immis: upstream not connected")
	}

	_, err := conn.Write(BuildPacket(MsgSessionCommand, id, nil))
	return err
}
