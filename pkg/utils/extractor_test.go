package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPHeadersExtractor(t *testing.T) {
	var tests = []struct {
		name    string
		headers map[string]string
		want    string
		wantErr bool
	}{
		{
			name:    "joins header values",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Api-Key": "abc"},
			want:    "10.0.0.1-abc",
		},
		{
			name:    "trims spaces",
			headers: map[string]string{"X-Forwarded-For": " 10.0.0.1 ", "X-Api-Key": "abc "},
			want:    "10.0.0.1-abc",
		},
		{
			name:    "missing header is an error",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.1"},
			wantErr: true,
		},
	}

	e := NewHTTPHeadersExtractor("X-Forwarded-For", "X-Api-Key")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			got, err := e.Extract(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteAddrExtractor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	got, err := NewRemoteAddrExtractor().Extract(r)
	assert.NoError(t, err)
	assert.Equal(t, "192.0.2.1", got)

	r.RemoteAddr = "192.0.2.1"
	got, err = NewRemoteAddrExtractor().Extract(r)
	assert.NoError(t, err)
	assert.Equal(t, "192.0.2.1", got)
}

func TestPathExtractor(t *testing.T) {
	e := NewPathExtractor("/no-limit")

	got, err := e.Extract(httptest.NewRequest(http.MethodGet, "/user?id=1", nil))
	assert.NoError(t, err)
	assert.Equal(t, "/user", got)

	got, err = e.Extract(httptest.NewRequest(http.MethodGet, "/no-limit", nil))
	assert.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestHashFunc(t *testing.T) {
	hash := HashFunc(NewHTTPHeadersExtractor("X-Api-Key"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", hash(r))
	r.Header.Set("X-Api-Key", "abc")
	assert.Equal(t, "abc", hash(r))
	assert.Equal(t, "", hash("not a request"))
	assert.Equal(t, "", hash())
}
