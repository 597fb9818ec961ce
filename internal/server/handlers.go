package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pdf"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/queue"
	"github.com/MeKo-Tech/docrec/internal/recognize"
	"github.com/MeKo-Tech/docrec/internal/service"
	"github.com/MeKo-Tech/docrec/internal/store"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
	"github.com/MeKo-Tech/docrec/internal/version"
)

// DefaultDriverLicenseTemplate is used by POST /driver-license when the
// request names no template.
const DefaultDriverLicenseTemplate = "driver_license"

var errNoPipeline = errors.New("recognition pipeline not available")

// upload is a file read from a multipart request.
type upload struct {
	filename string
	data     []byte
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Store:   s.svc.Store != nil,
		Queue:   s.jobs != nil,
	}
	if s.svc.Templates != nil {
		resp.Templates = s.svc.Templates.Len()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) templatesHandler(w http.ResponseWriter, _ *http.Request) {
	resp := TemplatesResponse{Templates: []TemplateInfo{}}
	if s.svc.Templates != nil {
		for _, name := range s.svc.Templates.Names() {
			tpl, err := s.svc.Templates.Get(name)
			if err != nil {
				continue
			}
			resp.Templates = append(resp.Templates, describeTemplate(tpl))
		}
	}
	resp.Count = len(resp.Templates)
	s.writeJSON(w, http.StatusOK, resp)
}

func describeTemplate(tpl *template.Template) TemplateInfo {
	info := TemplateInfo{Name: tpl.Name, Width: tpl.Size.Width, Height: tpl.Size.Height}
	for _, r := range tpl.Regions() {
		info.Regions = append(info.Regions, RegionInfo{
			Name: r.Name,
			Type: string(r.Type),
			Box:  [4]float64{r.Box.MinX, r.Box.MinY, r.Box.MaxX, r.Box.MaxY},
		})
	}
	return info
}

// recognizeHandler reads the fields of an uploaded photo. An uploaded PDF
// is recognized image by image.
func (s *Server) recognizeHandler(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}
	name := r.FormValue("template")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "missing_template", errors.New("template is required"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if pdf.IsPDF(up.filename) {
		s.recognizePDF(ctx, w, r, up, name)
		return
	}

	res, err := s.recognize(ctx, service.Request{
		JobID:    r.FormValue("job_id"),
		Template: name,
		Source:   pipeline.Source{Data: up.data, Label: up.filename},
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RecognizeResponse{Success: true, Result: res})
}

func (s *Server) recognizePDF(ctx context.Context, w http.ResponseWriter, r *http.Request, up upload, name string) {
	scans, err := pdf.ExtractScansFromBytes(up.data, pdf.Options{
		Pages:       r.FormValue("pages"),
		Credentials: pdf.Credentials{UserPassword: r.FormValue("password")},
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if _, err := s.svc.Template(name); err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := RecognizeResponse{Success: true}
	for _, sc := range scans {
		label := sc.Label(up.filename)
		res, err := s.recognize(ctx, service.Request{Template: name, Source: pipeline.Source{Data: sc.Data, Label: label}})
		sr := ScanResult{Label: label, Result: res}
		if err != nil {
			sr.Error = err.Error()
			resp.Success = false
		}
		resp.Scans = append(resp.Scans, sr)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// recognize runs a request through the service and records metrics.
func (s *Server) recognize(ctx context.Context, req service.Request) (*service.Result, error) {
	start := time.Now()
	res, err := s.svc.Recognize(ctx, req)
	recognitionDuration.WithLabelValues(req.Template).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		_, code := classify(err)
		recognitionsTotal.WithLabelValues(req.Template, code).Inc()
	case res.Cached:
		recognitionsTotal.WithLabelValues(req.Template, "cached").Inc()
	default:
		recognitionsTotal.WithLabelValues(req.Template, "success").Inc()
		if res.Align != nil {
			alignmentInliers.WithLabelValues(req.Template).Observe(float64(res.Align.Inliers))
		}
	}
	return res, err
}

// alignHandler returns the photo warped into the template frame as JPEG.
func (s *Server) alignHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", errNoPipeline)
		return
	}
	up, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}
	tpl, err := s.svc.Template(r.FormValue("template"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipe.Align(ctx, pipeline.FromBytes(up.data), tpl)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	quality := s.pipe.Config().JPEGQuality
	if q, err := strconv.Atoi(r.FormValue("quality")); err == nil && q >= 1 && q <= 100 {
		quality = q
	}
	data, err := res.EncodeJPEG(quality)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Align-Matches", strconv.Itoa(res.Matches))
	w.Header().Set("X-Align-Inliers", strconv.Itoa(res.Inliers))
	_, _ = w.Write(data)
}

// passportHandler reads the passport serial and number from the raw
// photo text.
func (s *Server) passportHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", errNoPipeline)
		return
	}
	up, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}
	rec, err := recognize.NewPassportByRegex(r.FormValue("serial_pattern"), r.FormValue("number_pattern"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_pattern", err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	p, err := pipeline.RecognizeAs[recognize.Passport](ctx, s.pipe, pipeline.FromBytes(up.data), rec)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// driverLicenseHandler reads a driver license. mode=regex reads only the
// code from the raw photo; otherwise the photo is aligned to the template.
func (s *Server) driverLicenseHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", errNoPipeline)
		return
	}
	up, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}

	var rec recognize.Recognizer[recognize.DriverLicense]
	if r.FormValue("mode") == "regex" {
		re, err := recognize.NewDriverLicenseByRegex(r.FormValue("pattern"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_pattern", err)
			return
		}
		rec = re
	} else {
		name := r.FormValue("template")
		if name == "" {
			name = DefaultDriverLicenseTemplate
		}
		tpl, err := s.svc.Template(name)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		normalize := r.FormValue("normalize") != "false"
		rec = recognize.NewDriverLicenseByTemplate(tpl, nil, normalize)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	dl, err := pipeline.RecognizeAs(ctx, s.pipe, pipeline.FromBytes(up.data), rec)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dl)
}

// enqueueHandler queues a recognition and returns its job id.
func (s *Server) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "queue_disabled", errors.New("background queue is not configured"))
		return
	}
	up, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}
	name := r.FormValue("template")
	if _, err := s.svc.Template(name); err != nil {
		s.writeFailure(w, err)
		return
	}
	payload := queue.RecognizePayload{JobID: r.FormValue("job_id"), Template: name, Image: up.data}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	id, err := s.jobs.Enqueue(r.Context(), payload)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "enqueue_failed", err)
		return
	}
	jobsEnqueued.WithLabelValues(name).Inc()
	s.writeJSON(w, http.StatusAccepted, JobResponse{JobID: id, Template: name})
}

func (s *Server) recordsHandler(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store_disabled", errors.New("result store is not configured"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries, err := s.svc.Store.List(r.Context(), r.URL.Query().Get("template"), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": entries, "count": len(entries)})
}

func (s *Server) recordHandler(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store_disabled", errors.New("result store is not configured"))
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_id", err)
		return
	}
	e, err := s.svc.Store.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

// readUpload reads the multipart file field. It writes the error response
// itself and reports whether the caller may continue.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) (upload, bool) {
	limit := s.cfg.MaxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeError(w, http.StatusRequestEntityTooLarge, "too_large", errors.New("file too large"))
		} else {
			s.writeError(w, http.StatusBadRequest, "invalid_form", fmt.Errorf("failed to parse form data: %w", err))
		}
		return upload{}, false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing_file", fmt.Errorf("no %s file provided", field))
		return upload{}, false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_form", fmt.Errorf("read upload: %w", err))
		return upload{}, false
	}
	uploadSizeBytes.Observe(float64(len(data)))
	return upload{filename: header.Filename, data: data}, true
}

// classify maps a recognition error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var ipe *utils.ImageProcessingError
	switch {
	case errors.Is(err, template.ErrTemplateNotFound):
		return http.StatusNotFound, "template_not_found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, align.ErrAlignment):
		return http.StatusUnprocessableEntity, "alignment_failed"
	case errors.Is(err, template.ErrTemplateFormat):
		return http.StatusBadRequest, "invalid_template"
	case errors.Is(err, pipeline.ErrNoTemplate):
		return http.StatusBadRequest, "missing_template"
	case errors.As(err, &ipe):
		return http.StatusBadRequest, "invalid_image"
	case errors.Is(err, pdf.ErrNoScans), pdf.IsPasswordError(err):
		return http.StatusBadRequest, "invalid_document"
	case errors.Is(err, ocr.ErrOCR), errors.Is(err, ocr.ErrUnavailable):
		return http.StatusBadGateway, "ocr_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeFailure writes the classified error. Alignment failures carry the
// number of matches found.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var ae *align.AlignmentError
	if errors.As(err, &ae) {
		n := ae.Matches
		resp.Matches = &n
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "code", code, "error", err)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
