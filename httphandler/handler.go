// http-handler handler to serve the relay status and the relay files

package httphandler

import (
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/session"
	"github.com/telebroad/chatrelay/tools"
)

// SessionLister returns the state of the connected sessions.
type SessionLister interface {
	Snapshot() []session.Info
}

// StatusServer is a http handler for the relay status and a read only view of its files
type StatusServer struct {
	store    *filesystem.Store
	sessions SessionLister
	mux      *http.ServeMux
	logger   *slog.Logger
}

func (s *StatusServer) SetLogger(l *slog.Logger) {
	s.logger = l
}

func (s *StatusServer) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s.logger.With("module", "http-server-handler")
}

// ServeHTTP serves the request implementing the http.Handler interface
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := tools.NewHttpResponseWriter(w)

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.mux.ServeHTTP(lw, r)
	case http.MethodOptions:
		lw.Header().Set("Allow", "GET, HEAD")
		lw.WriteHeader(http.StatusOK)
	default:
		lw.Header().Set("Allow", "GET, HEAD")
		http.Error(lw, "Method not allowed", http.StatusMethodNotAllowed)
	}

	s.Logger().Debug("ServeHTTP",
		"method", r.Method,
		"url", r.URL.String(),
		"remote", r.RemoteAddr,
		"status", lw.Status(),
		"size", lw.Size(),
		"duration", time.Since(start),
	)
}

type sessionsResponse struct {
	Count    int            `json:"count"`
	Sessions []session.Info `json:"sessions"`
}

// Sessions writes the connected sessions as JSON
func (s *StatusServer) Sessions(w http.ResponseWriter, r *http.Request) {
	infos := s.sessions.Snapshot()
	if infos == nil {
		infos = []session.Info{}
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(sessionsResponse{Count: len(infos), Sessions: infos})
	if err != nil {
		s.Logger().Error("error writing sessions", "error", err)
	}
}

var (
	//go:embed directory.gohtml
	directoryTemplate string

	directoryHTML = template.Must(template.New("directory.gohtml").Parse(directoryTemplate))
)

// List writes an html listing of the relay files
func (s *StatusServer) List(w http.ResponseWriter, r *http.Request) {
	type FileInfo struct {
		Name     string
		URL      string
		Size     int64
		Modified time.Time
	}

	files, err := s.store.List()
	if err != nil {
		s.Logger().Error("Unable to read directory", "error", err)
		http.Error(w, "Unable to read directory", http.StatusInternalServerError)
		return
	}

	infos := make([]FileInfo, 0, len(files))
	for _, file := range files {
		infos = append(infos, FileInfo{
			Name:     file.Name(),
			URL:      url.PathEscape(file.Name()),
			Size:     file.Size(),
			Modified: file.ModTime(),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err = directoryHTML.Execute(w, struct{ Files []FileInfo }{infos}); err != nil {
		s.Logger().Error("error rendering directory", "error", err)
	}
}

// Get serves one relay file
func (s *StatusServer) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	file, info, safeName, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, filesystem.ErrInvalidName) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.Logger().Warn("error opening file", "file", name, "error", err)
		http.Error(w, "File not available", http.StatusNotFound)
		return
	}
	defer file.Close()

	http.ServeContent(w, r, safeName, info.ModTime(), file)
}

// NewStatusHandler creates the http handler of the relay
func NewStatusHandler(store *filesystem.Store, sessions SessionLister) *StatusServer {
	s := &StatusServer{
		store:    store,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /sessions", s.Sessions)
	s.mux.HandleFunc("GET /files/{$}", s.List)
	s.mux.HandleFunc("GET /files/{name}", s.Get)
	return s
}
