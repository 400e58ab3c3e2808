package httphandler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/session"
)

var uploadID = uuid.MustParse("4f1c2b6e-8d3a-4e5f-9a7b-0c1d2e3f4a5b")

type staticSessions []session.Info

func (s staticSessions) Snapshot() []session.Info {
	return s
}

func newTestHandler(t *testing.T, sessions SessionLister) (*StatusServer, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report one.txt"), []byte("quarterly"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	h := NewStatusHandler(filesystem.NewStore(root), sessions)
	h.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, root
}

func Test_Sessions(t *testing.T) {
	tests := []struct {
		name     string
		sessions staticSessions
		count    int
	}{
		{"none", nil, 0},
		{"two", staticSessions{
			{ID: 5, PeerAddress: "10.0.0.1"},
			{ID: 7, PeerAddress: "10.0.0.2", Upload: &session.UploadInfo{ID: uploadID, Name: "a.bin", Total: 10, Received: 4, Writable: true}},
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.sessions)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body sessionsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.count, body.Count)
			require.Len(t, body.Sessions, tt.count)
			if tt.count == 2 {
				assert.Nil(t, body.Sessions[0].Upload)
				require.NotNil(t, body.Sessions[1].Upload)
				assert.Equal(t, int64(4), body.Sessions[1].Upload.Received)
				assert.Equal(t, uploadID, body.Sessions[1].Upload.ID)
				assert.Contains(t, rec.Body.String(), `"transfer":"`+uploadID.String()+`"`)
			}
		})
	}
}

func Test_Files(t *testing.T) {
	h, _ := newTestHandler(t, staticSessions{})

	tests := []struct {
		name     string
		method   string
		target   string
		status   int
		contains string
	}{
		{"listing", http.MethodGet, "/files/", http.StatusOK, `href="report%20one.txt"`},
		{"download", http.MethodGet, "/files/report%20one.txt", http.StatusOK, "quarterly"},
		{"missing", http.MethodGet, "/files/nothing.txt", http.StatusNotFound, "File not found"},
		{"directory", http.MethodGet, "/files/sub", http.StatusNotFound, ""},
		{"write refused", http.MethodPut, "/files/new.txt", http.StatusMethodNotAllowed, ""},
		{"unknown path", http.MethodGet, "/other", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}

	// the listing only shows regular files
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/", nil))
	assert.NotContains(t, rec.Body.String(), "sub")
}

func Test_ServerServe(t *testing.T) {
	h, _ := newTestHandler(t, staticSessions{{ID: 1, PeerAddress: "127.0.0.1"}})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(l.Addr().String(), h)
	errC := make(chan error, 1)
	go func() { errC <- s.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/sessions")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"peer":"127.0.0.1"`)

	require.NoError(t, s.Close(time.Second))
	require.NoError(t, <-errC)
}
