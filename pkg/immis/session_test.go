package immis

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeUpstream is a minimal IMMIS server: TLS with a self-signed cert, reads
// the 122-byte auth header, then hands the connection to the test.
type fakeUpstream struct {
	ln      net.Listener
	conns   chan net.Conn
	auth    chan []byte
	accepts atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.Nil(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.Nil(t, err)

	f := &fakeUpstream{
		ln:    ln,
		conns: make(chan net.Conn, 4),
		auth:  make(chan []byte, 4),
	}

	go func() {
		for {
			conn, err2 := ln.Accept()
			if err2 != nil {
				return
			}
			f.accepts.Add(1)
			go func() {
				hdr := make([]byte, authHeaderSize)
				if _, err3 := io.ReadFull(conn, hdr); err3 != nil {
					_ = conn.Close()
					return
				}
				f.auth <- hdr
				f.conns <- conn
			}()
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeUpstream) url() string {
	return "immis://" + f.ln.Addr().String() + "/TESTCONN__0?client_id=9"
}

func waitConn(t *testing.T, ch chan net.Conn) net.Conn {
	select {
	case conn := <-ch:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no upstream connection")
		return nil
	}
}

func dialLocal(t *testing.T, sess *Session) net.Conn {
	conn, err := net.Dial("tcp", strings.TrimPrefix(sess.URL(), "tcp://"))
	require.Nil(t, err)
	return conn
}

func TestSessionStreamAndTeardown(t *testing.T) {
	f := newFakeUpstream(t)

	sess := NewSession(Config{URL: f.url(), Serial: "CAMSERIAL"})

	events := make(chan Event, 256)
	sess.Listen(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	url, err := sess.Start()
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(url, "tcp://127.0.0.1:"))
	require.True(t, sess.Serving())

	client := dialLocal(t, sess)
	up := waitConn(t, f.conns)

	// auth header must arrive before any other traffic
	require.Equal(t, BuildAuthHeader("CAMSERIAL", 9, "TESTCONN"), <-f.auth)

	// valid video, invalid video (no TS sync), unknown type, valid video
	_, err = up.Write(BuildPacket(MsgVideo, 1, []byte{0x47, 0x11, 0x22}))
	require.Nil(t, err)
	_, err = up.Write(BuildPacket(MsgVideo, 2, []byte{0x00, 0xDE, 0xAD}))
	require.Nil(t, err)
	_, err = up.Write(BuildPacket(MsgType(0x33), 3, []byte{0x47}))
	require.Nil(t, err)
	_, err = up.Write(BuildPacket(MsgVideo, 4, []byte{0x47, 0x33}))
	require.Nil(t, err)

	got := make([]byte, 5)
	_, err = io.ReadFull(client, got)
	require.Nil(t, err)
	require.Equal(t, []byte{0x47, 0x11, 0x22, 0x47, 0x33}, got)

	// nothing else was forwarded
	require.Nil(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = client.Read(make([]byte, 1))
	require.NotNil(t, err)

	// last client disconnect tears the whole session down
	_ = client.Close()
	require.Eventually(t, func() bool { return !sess.Serving() }, 5*time.Second, 10*time.Millisecond)

	requireEvent(t, events, EventClosed)

	// local listener is gone
	_, err = net.Dial("tcp", strings.TrimPrefix(url, "tcp://"))
	require.NotNil(t, err)
}

func TestSessionReconnect(t *testing.T) {
	f := newFakeUpstream(t)

	sess := NewSession(Config{URL: f.url(), Serial: "CAMSERIAL"})

	events := make(chan Event, 256)
	sess.Listen(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	_, err := sess.Start()
	require.Nil(t, err)

	client := dialLocal(t, sess)
	defer client.Close()

	up := waitConn(t, f.conns)

	// drop the upstream while a client is still attached
	_ = up.Close()

	// exactly one reconnect attempt after the fixed delay
	up2 := waitConn(t, f.conns)
	require.Equal(t, int32(2), f.accepts.Load())
	requireEvent(t, events, EventReconnect)

	// the new link still streams
	_, err = up2.Write(BuildPacket(MsgVideo, 1, []byte{0x47, 0x55}))
	require.Nil(t, err)

	got := make([]byte, 2)
	_, err = io.ReadFull(client, got)
	require.Nil(t, err)
	require.Equal(t, []byte{0x47, 0x55}, got)

	_ = client.Close()
	require.Eventually(t, func() bool { return !sess.Serving() }, 5*time.Second, 10*time.Millisecond)
}

func TestSessionReadinessGate(t *testing.T) {
	f := newFakeUpstream(t)

	ready := make(chan error, 1)
	sess := NewSession(Config{URL: f.url(), Serial: "CAMSERIAL", Ready: ready})

	_, err := sess.Start()
	require.Nil(t, err)

	client := dialLocal(t, sess)
	defer client.Close()

	// client is accepted, but no upstream connect until the gate resolves
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(0), f.accepts.Load())

	// a failed command never blocks the stream
	ready <- io.ErrUnexpectedEOF

	waitConn(t, f.conns)
	require.Equal(t, int32(1), f.accepts.Load())

	_ = client.Close()
	require.Eventually(t, func() bool { return !sess.Serving() }, 5*time.Second, 10*time.Millisecond)
}

func TestSessionRecording(t *testing.T) {
	f := newFakeUpstream(t)
	dir := t.TempDir()

	sess := NewSession(Config{URL: f.url(), Serial: "CAMSERIAL", RecordDir: dir})

	_, err := sess.Start()
	require.Nil(t, err)

	client := dialLocal(t, sess)
	up := waitConn(t, f.conns)

	payload := []byte{0x47, 0x01, 0x02, 0x03}
	_, err = up.Write(BuildPacket(MsgVideo, 1, payload))
	require.Nil(t, err)

	_, err = io.ReadFull(client, make([]byte, len(payload)))
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		names, _ := filepath.Glob(filepath.Join(dir, "CAMSERIAL-*.ts"))
		if len(names) != 1 {
			return false
		}
		b, _ := os.ReadFile(names[0])
		return string(b) == string(payload)
	}, 5*time.Second, 10*time.Millisecond)

	_ = client.Close()
	require.Eventually(t, func() bool { return !sess.Serving() }, 5*time.Second, 10*time.Millisecond)
}

func TestSessionStopIdempotent(t *testing.T) {
	f := newFakeUpstream(t)

	sess := NewSession(Config{URL: f.url(), Serial: "CAMSERIAL"})

	_, err := sess.Start()
	require.Nil(t, err)

	require.Nil(t, sess.Stop())
	require.Nil(t, sess.Stop())
	require.False(t, sess.Serving())
}

func requireEvent(t *testing.T, events chan Event, typ EventType) {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return
			}
		case <-deadline:
			t.Fatalf("event %d not fired", typ)
		}
	}
}
