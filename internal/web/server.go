// Package web serves the single-page detection demo and its JSON API.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"food_detector/internal/config"
	"food_detector/internal/detector"
	"food_detector/internal/model"
	"food_detector/internal/upload"
)

//go:embed templates/index.html
var templateFS embed.FS

// formField is the multipart field carrying the image.
const formField = "file"

// ModelProvider hands out the process-wide model handle.
type ModelProvider interface {
	Get() (*model.Model, error)
	State() model.State
	LoadCount() int64
}

type Server struct {
	cfg      *config.Config
	models   ModelProvider
	detector *detector.Detector
	decoder  *upload.Decoder
	sessions *SessionStore
	logger   logrus.FieldLogger
	page     *template.Template
	router   *mux.Router
}

func NewServer(cfg *config.Config, models ModelProvider, det *detector.Detector, dec *upload.Decoder, logger logrus.FieldLogger) *Server {
	s := &Server{
		cfg:      cfg,
		models:   models,
		detector: det,
		decoder:  dec,
		sessions: NewSessionStore(cfg.SessionTTL, cfg.MaxSessions),
		logger:   logger,
		page:     template.Must(template.ParseFS(templateFS, "templates/index.html")),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/image/{kind:original|annotated}", s.handleImage).Methods(http.MethodGet)

	r.HandleFunc("/api/detect", s.handleAPIDetect).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// session returns the caller's session, starting a new one when the cookie
// is missing or expired.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if sess, ok := s.existingSession(r); ok {
		return sess, nil
	}
	sess, err := s.sessions.Create()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (s *Server) existingSession(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return s.sessions.Get(c.Value)
}

// readUpload extracts the multipart image from r and decodes it. Any
// problem with the upload is reported as *upload.DecodeError.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload.Image, error) {
	// room for the multipart envelope on top of the image itself
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &upload.DecodeError{Cause: fmt.Errorf("%w: limit is %d bytes", upload.ErrTooLarge, s.cfg.MaxUploadBytes)}
		}
		return nil, &upload.DecodeError{Cause: fmt.Errorf("failed to parse form: %w", err)}
	}

	file, header, err := r.FormFile(formField)
	if err != nil {
		return nil, &upload.DecodeError{Cause: fmt.Errorf("no image file provided, use '%s' as the form field name", formField)}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &upload.DecodeError{Name: header.Filename, Cause: err}
	}
	return s.decoder.Decode(data, header.Filename)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// statusFor maps a stage error to an HTTP status.
func statusFor(err error) int {
	var loadErr *model.ModelLoadError
	var decodeErr *upload.DecodeError
	var inferErr *detector.InferenceError
	switch {
	case errors.As(err, &loadErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.As(err, &inferErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// errorCode is the machine readable counterpart of statusFor.
func errorCode(err error) string {
	var loadErr *model.ModelLoadError
	var decodeErr *upload.DecodeError
	var inferErr *detector.InferenceError
	switch {
	case errors.As(err, &loadErr):
		return "model_unavailable"
	case errors.Is(err, upload.ErrTooLarge):
		return "too_large"
	case errors.As(err, &decodeErr):
		return "invalid_image"
	case errors.As(err, &inferErr):
		return "inference_failed"
	}
	return "internal"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		})
		if strings.HasPrefix(r.URL.Path, "/image/") || r.URL.Path == "/health" {
			entry.Debug("Request handled")
			return
		}
		entry.Info("Request handled")
	})
}
