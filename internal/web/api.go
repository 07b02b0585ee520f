package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"food_detector/internal/detector"
	"food_detector/internal/model"
)

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type DetectionResponse struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

type DetectResponse struct {
	Count      int                 `json:"count"`
	Width      int                 `json:"width"`
	Height     int                 `json:"height"`
	Detections []DetectionResponse `json:"detections"`
	// Annotated is the base64 JPEG, present when requested with ?annotated=true.
	Annotated string `json:"annotated,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	ModelState string `json:"model_state"`
	LoadCount  int64  `json:"load_count"`
	Sessions   int    `json:"sessions"`
}

func toResponse(dets []detector.Detection) []DetectionResponse {
	out := make([]DetectionResponse, len(dets))
	for i, d := range dets {
		out[i] = DetectionResponse{
			Label:      d.Label,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        Box{X1: d.Box.Min.X, Y1: d.Box.Min.Y, X2: d.Box.Max.X, Y2: d.Box.Max.Y},
		}
	}
	return out
}

// handleAPIDetect runs the whole workflow for one multipart upload without
// touching the browser session.
func (s *Server) handleAPIDetect(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.Get()
	if err != nil {
		s.sendError(w, err)
		return
	}

	img, err := s.readUpload(w, r)
	if err != nil {
		s.sendError(w, err)
		return
	}

	res, err := s.detector.Detect(m, img.Bitmap)
	if err != nil {
		s.logger.WithError(err).WithField("file", img.Name).Error("Detection failed")
		s.sendError(w, err)
		return
	}

	resp := DetectResponse{
		Count:      len(res.Detections),
		Width:      img.Width(),
		Height:     img.Height(),
		Detections: toResponse(res.Detections),
	}
	if annotated, _ := strconv.ParseBool(r.URL.Query().Get("annotated")); annotated {
		data, err := encodeJPEG(res.Annotated)
		if err != nil {
			s.sendError(w, &detector.InferenceError{Stage: "render", Cause: err})
			return
		}
		resp.Annotated = base64.StdEncoding.EncodeToString(data)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.models.State()
	resp := HealthResponse{
		Status:     "healthy",
		ModelState: state.String(),
		LoadCount:  s.models.LoadCount(),
		Sessions:   s.sessions.Len(),
	}
	status := http.StatusOK
	if state != model.StateLoaded {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), ErrorResponse{
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}
