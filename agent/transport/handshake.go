package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrHandshake wraps every upgrade failure.
var ErrHandshake = errors.New("websocket handshake failed")

// Endpoint is a parsed ws:// server address.
type Endpoint struct {
	Host string // host:port
	Path string // path and query
}

// ParseEndpoint validates a ws:// URL. Only plain ws is supported; a
// missing port defaults to 80.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" {
		return Endpoint{}, fmt.Errorf("unsupported URL scheme %q (want ws)", u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("server URL %q has no host", raw)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	return Endpoint{Host: host, Path: path}, nil
}

// handshakeResult carries bytes the server sent after its 101 response;
// they belong to the first frames.
type handshakeResult struct {
	leftover []byte
	accepted bool
}

// handshake performs the client upgrade on conn.
func handshake(ctx context.Context, conn net.Conn, ep Endpoint, timeout time.Duration, rnd io.Reader) (handshakeResult, error) {
	var res handshakeResult

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return res, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	defer conn.SetDeadline(time.Time{})

	var raw [16]byte
	if _, err := io.ReadFull(rnd, raw[:]); err != nil {
		return res, fmt.Errorf("%w: generate key: %v", ErrHandshake, err)
	}
	key := base64.StdEncoding.EncodeToString(raw[:])

	req := "GET " + ep.Path + " HTTP/1.1\r\n" +
		"Host: " + ep.Host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return res, fmt.Errorf("%w: send request: %v", ErrHandshake, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodGet})
	if err != nil {
		return res, fmt.Errorf("%w: read response: %v", ErrHandshake, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return res, fmt.Errorf("%w: unexpected status %q", ErrHandshake, resp.Status)
	}

	res.accepted = resp.Header.Get("Sec-WebSocket-Accept") == acceptKey(key)
	if n := br.Buffered(); n > 0 {
		res.leftover, _ = br.Peek(n)
		res.leftover = append([]byte(nil), res.leftover...)
	}
	return res, nil
}

func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// defaultRand is swapped by tests that need deterministic keys.
var defaultRand io.Reader = rand.Reader
