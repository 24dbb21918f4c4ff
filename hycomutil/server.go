/*
Copyright © 2024 the hycom authors.
This file is part of hycom.

hycom is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hycom is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hycom.  If not, see <http://www.gnu.org/licenses/>.
*/

package hycomutil

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hycom"
)

// Server is the web interface for controlling downloads.
type Server struct {
	Controller *Controller

	// ConfigFile is where configuration changes are saved. If empty,
	// changes are kept in memory only.
	ConfigFile string

	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger

	mu  sync.RWMutex
	cfg hycom.Config
}

// NewServer returns a server whose runs start from cfg.
func NewServer(cfg hycom.Config, c *Controller, g prometheus.Gatherer, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{Controller: c, Gatherer: g, Log: log, cfg: cfg}
}

// Config returns the current configuration.
func (s *Server) Config() hycom.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", s.getConfig)
	mux.HandleFunc("POST /api/config", s.setConfig)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("POST /api/start", s.start)
	mux.HandleFunc("POST /api/stop", s.stop)
	mux.HandleFunc("GET /api/files", s.listFiles)
	mux.HandleFunc("GET /api/files/{name}", s.getFile)
	mux.HandleFunc("DELETE /api/files/{name}", s.deleteFile)
	mux.HandleFunc("GET /api/progress", s.progress)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /{$}", s.index)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Warnf("writing response: %v", err)
	}
}

type message struct {
	Message string   `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	Details []string `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	m := message{Error: err.Error()}
	var ce *hycom.ConfigurationError
	if errors.As(err, &ce) {
		m.Details = ce.Problems
	}
	s.writeJSON(w, status, m)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, SettingsOf(s.Config()))
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Fields missing from the request keep their current values.
	settings := SettingsOf(s.cfg)
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := settings.Apply(s.cfg)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.ConfigFile != "" {
		if err := settings.Save(s.ConfigFile); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.cfg = cfg
	s.Log.Info("configuration updated")
	s.writeJSON(w, http.StatusOK, struct {
		Message string   `json:"message"`
		Config  Settings `json:"config"`
	}{"Configuration updated successfully", settings})
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	hycom.Progress
	IsRunning bool `json:"is_running"`

	// Percent is the share of days processed.
	Percent float64 `json:"progress"`
}

func statusResponse(p hycom.Progress) StatusResponse {
	sr := StatusResponse{Progress: p, IsRunning: p.State == hycom.Running}
	if p.TotalDays > 0 {
		sr.Percent = 100 * float64(p.DoneDays) / float64(p.TotalDays)
	}
	return sr
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse(s.Controller.Status()))
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	err := s.Controller.Start(s.Config())
	var ce *hycom.ConfigurationError
	switch {
	case errors.Is(err, ErrRunning):
		s.writeError(w, http.StatusConflict, err)
	case errors.As(err, &ce):
		s.writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, message{Message: "Download started"})
	}
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Stop(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, message{Message: "Stop requested"})
}

// FileInfo describes an archive in the output directory.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
	Path    string    `json:"path"`
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	dir := s.Config().OutputDir
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	files := []FileInfo{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    e.Name(),
			Size:    fi.Size(),
			Created: fi.ModTime().UTC(),
			Path:    filepath.Join(dir, e.Name()),
		})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Created.After(files[j].Created) })
	s.writeJSON(w, http.StatusOK, files)
}

// archivePath returns the path of the archive named in the request, or
// false if the name is not a plain archive file name.
func (s *Server) archivePath(r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".zip") {
		return "", false
	}
	return filepath.Join(s.Config().OutputDir, name), true
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.archivePath(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid file name"))
		return
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		s.writeError(w, http.StatusNotFound, errors.New("file not found"))
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fi.Name()+`"`)
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.archivePath(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid file name"))
		return
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		s.writeError(w, http.StatusNotFound, errors.New("file not found"))
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Log.Infof("deleted %s", path)
	s.writeJSON(w, http.StatusOK, message{Message: "File deleted"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// progress streams status snapshots over a websocket.
func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warnf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Reading is needed to notice the client going away.
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for p := range s.Controller.Watch(ctx) {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(statusResponse(p)); err != nil {
			return
		}
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>HYCOM downloader</title>
	<style>
		html, body {padding: 0; margin: 2% 0; font-family: sans-serif;}
		.container { max-width: 700px; margin: 0 auto; padding: 10px; }
		pre { background: #f4f4f4; padding: 5px; }
	</style>
</head>
<body>
<div class="container">
	<h1>HYCOM downloader</h1>
	<p>Region {{.Bounds}}, {{.Start.Format "2006-01-02"}} to {{.End.Format "2006-01-02"}}, variables {{.Variables}}.</p>
	<p>
		<button onclick="fetch('/api/start', {method: 'POST'})">Start</button>
		<button onclick="fetch('/api/stop', {method: 'POST'})">Stop</button>
		<a href="/api/files">Archives</a>
	</p>
	<pre id="status">Connecting...</pre>
</div>
<script>
let ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/api/progress");
ws.onmessage = e => {
	let p = JSON.parse(e.data);
	document.getElementById("status").textContent =
		p.state + ": " + p.message + "\n" + p.done_days + "/" + p.total_days + " days, " +
		p.failure_count + " failed" + (p.last_error ? "\nLast error: " + p.last_error : "");
};
</script>
</body>
</html>`))

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.Config()); err != nil {
		s.Log.Warnf("rendering index: %v", err)
	}
}
