package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/exports/tx.csv", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, clientAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("TxHash,Value\n0x1,10\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte("root"))
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"http://example.com/a.csv", true},
		{"HTTPS://example.com/a.csv", true},
		{"data/train.csv", false},
		{"/tmp/a.csv.gz", false},
		{"ftp://example.com/a.csv", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, IsURL(tt.src))
		})
	}
}

func TestDownload(t *testing.T) {
	s := testServer(t)
	dir := t.TempDir()
	ctx := context.Background()

	target := filepath.Join(dir, "out.csv")
	require.NoError(t, Download(ctx, s.URL+"/exports/tx.csv", target))
	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "TxHash,Value\n0x1,10\n", string(b))

	err = Download(ctx, s.URL+"/missing.csv", filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, ErrorURLNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "missing.csv"))

	err = Download(ctx, s.URL+"/broken", filepath.Join(dir, "broken"))
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	s := testServer(t)
	dir := t.TempDir()
	ctx := context.Background()

	p, err := Fetch(ctx, "local/file.csv", dir)
	require.NoError(t, err)
	assert.Equal(t, "local/file.csv", p)

	p, err = Fetch(ctx, s.URL+"/exports/tx.csv?token=x", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tx.csv"), p)
	assert.FileExists(t, p)

	p, err = Fetch(ctx, s.URL+"/", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, defaultFileName), p)

	p, err = Fetch(ctx, s.URL+"/..", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, defaultFileName), p)

	_, err = Fetch(ctx, s.URL+"/missing.csv", dir)
	assert.ErrorIs(t, err, ErrorURLNotFound)
}

func TestFetch_Canceled(t *testing.T) {
	s := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fetch(ctx, s.URL+"/exports/tx.csv", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
