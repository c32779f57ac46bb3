package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil || c.Value != "abc" {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	f := New(Options{})
	defer f.Close()

	res, err := f.Fetch(context.Background(), srv.URL+"/report.pdf", []*http.Cookie{{Name: "session", Value: "abc"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/pdf", res.ContentType)
	assert.Equal(t, []byte("%PDF-1.7"), res.Body)
	assert.Equal(t, srv.URL+"/report.pdf", res.FinalURL)

	_, err = f.Fetch(context.Background(), srv.URL+"/report.pdf", nil)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(Options{}).Fetch(context.Background(), srv.URL+"/old", nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", res.FinalURL)
	assert.Equal(t, "moved", string(res.Body))
}

func TestFetchEnforcesSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked" {
			w.(http.Flusher).Flush()
		}
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := New(Options{MaxBytes: 32})

	_, err := f.Fetch(context.Background(), srv.URL+"/fixed", nil)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.Fetch(context.Background(), srv.URL+"/chunked", nil)
	assert.ErrorIs(t, err, ErrTooLarge)

	res, err := New(Options{MaxBytes: 64}).Fetch(context.Background(), srv.URL+"/fixed", nil)
	require.NoError(t, err)
	assert.Len(t, res.Body, 64)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := New(Options{})
	for _, raw := range []string{"", "ftp://a.example/x", "not a url", "https://"} {
		_, err := f.Fetch(context.Background(), raw, nil)
		assert.Error(t, err, raw)
	}
}

func TestFetchOverChromeTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Proto))
	}))
	defer srv.Close()

	roots := srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	f := New(Options{RootCAs: roots})
	defer f.Close()

	res, err := f.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1", string(res.Body))
}
