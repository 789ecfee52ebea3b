// Package playback serves local media to the player over HTTP with byte
// range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrNoIntro = errors.New("intro asset is not configured")

// mediaTypes covers what the mime package may not know without system tables.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".edl":  "text/plain; charset=utf-8",
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

type Service interface {
	ServeIntro(w http.ResponseWriter, r *http.Request) error
	ServeExport(w http.ResponseWriter, r *http.Request, name string) error
}

// Server serves the locked intro asset and written exports.
type Server struct {
	introPath string
	exportDir string
	logger    *slog.Logger
}

func NewServer(introPath, exportDir string, logger *slog.Logger) *Server {
	return &Server{introPath: introPath, exportDir: exportDir, logger: logger}
}

// HasIntro reports whether an intro file is configured.
func (s *Server) HasIntro() bool {
	return s.introPath != ""
}

func (s *Server) ServeIntro(w http.ResponseWriter, r *http.Request) error {
	if s.introPath == "" {
		http.Error(w, ErrNoIntro.Error(), http.StatusNotFound)
		return nil
	}
	return s.serveFile(w, r, s.introPath)
}

// ServeExport serves a file written to the export directory. name must be a
// bare file name.
func (s *Server) ServeExport(w http.ResponseWriter, r *http.Request, name string) error {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		http.Error(w, "invalid export name", http.StatusBadRequest)
		return nil
	}
	return s.serveFile(w, r, filepath.Join(s.exportDir, name))
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := info.Size()

	w.Header().Set("Content-Type", contentType(path))
	w.Header().Set("Accept-Ranges", "bytes")

	rng, ok, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// a malformed Range header is ignored
		ok = false
	}

	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err = io.Copy(w, f)
		return err
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.Header().Set("Content-Range", rng.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, f, rng.Length())
	return err
}
