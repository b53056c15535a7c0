package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/camkit/immis2tcp/internal/api"
	"github.com/camkit/immis2tcp/pkg/immis"
)

func apiProxy(w http.ResponseWriter, r *http.Request) {
	mu.Lock()
	info := map[string]immis.Info{}
	for name, sess := range sessions {
		info[name] = sess.Info()
	}
	mu.Unlock()

	api.ResponseJSON(w, info)
}

// dialSession joins a session as a regular local client, so HTTP and WS
// consumers obey the same lifecycle rules as TCP ones.
func dialSession(name string) (net.Conn, error) {
	sess, err := GetSession(name)
	if err != nil {
		return nil, err
	}
	return net.Dial("tcp", strings.TrimPrefix(sess.URL(), "tcp://"))
}

func apiProxyTS(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")

	conn, err := dialSession(src)
	if err != nil {
		log.Warn().Err(err).Str("camera", src).Msg("[proxy] http consumer")
		http.Error(w, api.SourceNotFound, http.StatusNotFound)
		return
	}
	defer conn.Close()

	w.Header().Set("Content-Type", "video/mp2t")

	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err = w.Write(buf[:n]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
