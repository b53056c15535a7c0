package immis

import (
	"encoding/binary"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Liveview - parsed immis:// URL from the vendor REST API:
//
//	immis://host:port/STREAMID__suffix?client_id=123
type Liveview struct {
	Host     string // host:port of the streaming endpoint
	Path     string
	ClientID uint32 // client_id query param, 0 if absent
	ConnID   string // final path segment before the first "__"
}

func ParseLiveview(rawURL string) (*Liveview, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "immis" {
		return nil, errors.New("immis: unsupported scheme: " + u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":443"
	}

	var clientID uint32
	if s := u.Query().Get("client_id"); s != "" {
		if v, err2 := strconv.ParseUint(s, 10, 32); err2 == nil {
			clientID = uint32(v)
		}
	}

	seg := u.Path
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	if i := strings.Index(seg, "__"); i >= 0 {
		seg = seg[:i]
	}

	return &Liveview{Host: host, Path: u.Path, ClientID: clientID, ConnID: seg}, nil
}

const authHeaderSize = 122

// BuildAuthHeader builds the fixed 122-byte session initiation blob. It is
// written exactly once, immediately after the TLS handshake. The token field
// is all zeros - no token material exists at this protocol layer.
func BuildAuthHeader(serial string, clientID uint32, connID string) []byte {
	b := make([]byte, 0, authHeaderSize)
	b = binary.BigEndian.AppendUint32(b, 0x28) // magic
	b = binary.BigEndian.AppendUint32(b, 16)
	b = appendPadded(b, serial, 16)
	b = binary.BigEndian.AppendUint32(b, clientID)
	b = append(b, 0x01, 0x08)
	b = binary.BigEndian.AppendUint32(b, 64)
	b = append(b, make([]byte, 64)...) // token
	b = binary.BigEndian.AppendUint32(b, 16)
	b = appendPadded(b, connID, 16)
	b = binary.BigEndian.AppendUint32(b, 1) // trailer
	return b
}

// appendPadded appends s zero-padded or truncated to exactly size bytes.
func appendPadded(b []byte, s string, size int) []byte {
	if len(s) > size {
		s = s[:size]
	}
	b = append(b, s...)
	for i := len(s); i < size; i++ {
		b = append(b, 0)
	}
	return b
}
