package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/lowc1012/superlimiter/pkg/ratelimiter"
)

// Extractor represents the way we will extract a key from an HTTP request, this could be
// a value from a header, request path, method used, user authentication information, any information that
// is available at the HTTP request that wouldn't cause side effects if it was collected (this object shouldn't
// read the body of the request).
//
// An empty key with a nil error exempts the request from limiting.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(r *http.Request) (string, error)

func (f ExtractorFunc) Extract(r *http.Request) (string, error) {
	return f(r)
}

type httpHeaderExtractor struct {
	headers []string
}

// NewHTTPHeadersExtractor creates a new HTTP header extractor
func NewHTTPHeadersExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

// Extract extracts a collection of http headers and joins them to build the key that will be used for
// rate limiting. You should use headers that are guaranteed to be unique for a client.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		// if we can't find a value for the headers, give up and return an error.
		value := strings.TrimSpace(r.Header.Get(key))
		if value == "" {
			return "", fmt.Errorf("the header %v must have a value set", key)
		}
		values = append(values, value)
	}

	return strings.Join(values, "-"), nil
}

// NewRemoteAddrExtractor keys requests by client IP, without the port.
func NewRemoteAddrExtractor() Extractor {
	return ExtractorFunc(func(r *http.Request) (string, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr without a port
			return r.RemoteAddr, nil
		}
		return host, nil
	})
}

// NewPathExtractor keys requests by URL path. Paths listed in exempt are not limited.
func NewPathExtractor(exempt ...string) Extractor {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return ExtractorFunc(func(r *http.Request) (string, error) {
		if _, ok := skip[r.URL.Path]; ok {
			return "", nil
		}
		return r.URL.Path, nil
	})
}

// HashFunc turns an Extractor into a hash over a single *http.Request argument, for use
// as a limiter's configured hash. Extraction errors and other arguments hash to "".
func HashFunc(e Extractor) ratelimiter.HashFunc {
	return func(args ...any) string {
		if len(args) == 0 {
			return ""
		}
		r, ok := args[0].(*http.Request)
		if !ok {
			return ""
		}
		key, err := e.Extract(r)
		if err != nil {
			return ""
		}
		return key
	}
}
