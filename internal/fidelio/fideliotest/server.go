// Package fideliotest provides an in-process fake Fidelio speaker for tests.
package fideliotest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Speaker is a fake speaker served over httptest. It tracks power and native
// volume the way the real firmware does and records every request path.
type Speaker struct {
	mu        sync.Mutex
	server    *httptest.Server
	on        bool
	native    int
	unchanged bool
	failures  map[string]int
	requests  []string
}

// NewSpeaker starts a fake speaker in the given power state.
func NewSpeaker(on bool, native int) *Speaker {
	s := &Speaker{
		on:       on,
		native:   native,
		failures: make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close stops the server.
func (s *Speaker) Close() {
	s.server.Close()
}

// Host returns the host the speaker listens on.
func (s *Speaker) Host() string {
	host, _, _ := net.SplitHostPort(s.server.Listener.Addr().String())
	return host
}

// Port returns the port the speaker listens on.
func (s *Speaker) Port() int {
	_, port, _ := net.SplitHostPort(s.server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// FailWith makes requests to path answer with the given HTTP status.
func (s *Speaker) FailWith(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// ReportUnchanged makes ELAPSE answer NOTHING.
func (s *Speaker) ReportUnchanged(unchanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unchanged = unchanged
}

// On reports the fake power state.
func (s *Speaker) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// NativeVolume reports the fake native volume.
func (s *Speaker) NativeVolume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.native
}

// Requests returns every path requested so far, in order.
func (s *Speaker) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Speaker) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, path)
	if status, ok := s.failures[path]; ok {
		w.WriteHeader(status)
		return
	}

	switch {
	case path == "index":
		s.on = true
		fmt.Fprint(w, "<html></html>")
	case path == "CTRL$STANDBY":
		s.on = false
		fmt.Fprint(w, "{command:'STANDBY'}")
	case path == "HOMESTATUS":
		standby := 1
		if s.on {
			standby = 0
		}
		fmt.Fprintf(w, "{command:'STANDBY',value:%d}", standby)
	case path == "ELAPSE":
		if s.unchanged {
			fmt.Fprint(w, "{command:'NOTHING',value:0}")
			return
		}
		fmt.Fprintf(w, "{command:'ELAPSE',value:0,volume:%d}", s.native)
	case strings.HasPrefix(path, "VOLUME$VAL$"):
		n, err := strconv.Atoi(strings.TrimPrefix(path, "VOLUME$VAL$"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.native = n
		fmt.Fprint(w, "{command:'VOLUME'}")
	default:
		fmt.Fprint(w, "{command:'SELECT'}")
	}
}
