package proxy

import (
	"net/http"

	"github.com/camkit/immis2tcp/internal/api"
	"github.com/gorilla/websocket"
)

var wsUp = &websocket.Upgrader{
	WriteBufferSize: 512 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // auth handled by api middleware
}

// apiProxyWS streams the raw MPEG-TS bytes as binary websocket messages.
func apiProxyWS(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")

	conn, err := dialSession(src)
	if err != nil {
		log.Warn().Err(err).Str("camera", src).Msg("[proxy] ws consumer")
		http.Error(w, api.SourceNotFound, http.StatusNotFound)
		return
	}

	ws, err := wsUp.Upgrade(w, r, nil)
	if err != nil {
		_ = conn.Close()
		log.Debug().Err(err).Msg("[proxy] ws upgrade")
		return
	}

	// detect websocket close, the session sees it as a client disconnect
	go func() {
		for {
			if _, _, err2 := ws.ReadMessage(); err2 != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		if err = ws.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			break
		}
	}

	_ = conn.Close()
	_ = ws.Close()
}
