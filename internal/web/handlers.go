package web

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"food_detector/internal/detector"
	"food_detector/internal/upload"
)

type pageData struct {
	Title  string
	Accept string

	ModelError     string
	UploadError    string
	InferenceError string

	Upload   *upload.Image
	Detected bool
	Lines    []string
	Version  int64
}

func (s *Server) newPage() pageData {
	exts := make([]string, len(upload.Extensions))
	for i, e := range upload.Extensions {
		exts[i] = "." + e
	}
	return pageData{
		Title:  s.cfg.PageTitle,
		Accept: strings.Join(exts, ","),
	}
}

func fillFromSession(data *pageData, sess *Session) {
	data.Upload = sess.upload
	data.Version = sess.version
	if sess.result != nil {
		data.Detected = true
		data.Lines = detectionLines(sess.result.Detections)
	}
}

func detectionLines(dets []detector.Detection) []string {
	lines := make([]string, len(dets))
	for i, d := range dets {
		lines[i] = d.String()
	}
	return lines
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Errorf("Failed to render page: %v", err)
	}
}

// modelUnavailable renders the hard-stop page when the model failed to load.
// It reports whether it did so.
func (s *Server) modelUnavailable(w http.ResponseWriter) bool {
	if _, err := s.models.Get(); err != nil {
		data := s.newPage()
		data.ModelError = err.Error()
		s.render(w, statusFor(err), data)
		return true
	}
	return false
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.modelUnavailable(w) {
		return
	}

	// Reading the page never starts a session; the first upload does.
	data := s.newPage()
	if sess, ok := s.existingSession(r); ok {
		sess.mu.Lock()
		fillFromSession(&data, sess)
		sess.mu.Unlock()
	}
	s.render(w, http.StatusOK, data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.modelUnavailable(w) {
		return
	}
	sess, err := s.session(w, r)
	if err != nil {
		s.logger.Errorf("Failed to start session: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	img, err := s.readUpload(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err != nil {
		sess.replace(nil)
		s.logger.WithError(err).Warn("Rejected upload")
		data := s.newPage()
		data.UploadError = err.Error()
		s.render(w, statusFor(err), data)
		return
	}

	sess.replace(img)
	s.logger.WithFields(logrus.Fields{
		"file":   img.Name,
		"format": img.Format,
		"width":  img.Width(),
		"height": img.Height(),
	}).Info("Image uploaded")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.Get()
	if err != nil {
		s.modelUnavailable(w)
		return
	}
	sess, err := s.session(w, r)
	if err != nil {
		s.logger.Errorf("Failed to start session: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.upload == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	res, err := s.detector.Detect(m, sess.upload.Bitmap)
	var annotated []byte
	if err == nil {
		annotated, err = encodeJPEG(res.Annotated)
		if err != nil {
			err = &detector.InferenceError{Stage: "render", Cause: err}
		}
	}
	if err != nil {
		sess.setResult(nil, nil)
		s.logger.WithError(err).WithField("file", sess.upload.Name).Error("Detection failed")
		data := s.newPage()
		fillFromSession(&data, sess)
		data.InferenceError = err.Error()
		s.render(w, statusFor(err), data)
		return
	}

	sess.setResult(res, annotated)
	s.logger.WithFields(logrus.Fields{
		"file":       sess.upload.Name,
		"detections": len(res.Detections),
		"elapsed":    res.Timings.Total(),
	}).Info("Detection complete")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.existingSession(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var body []byte
	var contentType string
	sess.mu.Lock()
	switch mux.Vars(r)["kind"] {
	case "original":
		if sess.upload != nil {
			body, contentType = sess.upload.Raw, sess.upload.ContentType()
		}
	case "annotated":
		body, contentType = sess.annotated, "image/jpeg"
	}
	sess.mu.Unlock()

	if body == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(body)
}
