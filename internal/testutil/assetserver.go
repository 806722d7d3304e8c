package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Asset scripts the responses for one path: the first Failures requests get
// FailStatus (500 if unset), later ones get Body.
type Asset struct {
	Body       []byte
	Failures   int
	FailStatus int
}

// AssetServer is an httptest server serving scripted assets. Unknown paths
// return 404. It records request counts and the peak number of requests
// handled at the same time.
type AssetServer struct {
	*httptest.Server

	// Delay is applied to every request before responding.
	Delay time.Duration

	mu       sync.Mutex
	assets   map[string]*Asset
	requests map[string]int

	inFlight atomic.Int32
	peak     atomic.Int32
}

// NewAssetServer starts a server for assets keyed by URL path ("/zoe.png").
func NewAssetServer(assets map[string]*Asset) *AssetServer {
	s := &AssetServer{
		assets:   assets,
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *AssetServer) handle(w http.ResponseWriter, r *http.Request) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}

	s.mu.Lock()
	s.requests[r.URL.Path]++
	count := s.requests[r.URL.Path]
	asset, ok := s.assets[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if count <= asset.Failures {
		status := asset.FailStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(asset.Body)
}

// URLFor returns the absolute URL for path.
func (s *AssetServer) URLFor(path string) string {
	return s.Server.URL + "/" + strings.TrimPrefix(path, "/")
}

// Requests returns how many requests path received.
func (s *AssetServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests["/"+strings.TrimPrefix(path, "/")]
}

// TotalRequests returns the number of requests over all paths.
func (s *AssetServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

// PeakConcurrency returns the highest number of simultaneous requests seen.
func (s *AssetServer) PeakConcurrency() int {
	return int(s.peak.Load())
}
