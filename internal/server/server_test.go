package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/queue"
	"github.com/MeKo-Tech/docrec/internal/service"
	"github.com/MeKo-Tech/docrec/internal/store"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/testutil"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

type fakeAligner struct{ err error }

func (a fakeAligner) Align(_ context.Context, _ image.Image, tpl *template.Template) (*align.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &align.Result{
		Image:      image.NewNRGBA(image.Rect(0, 0, tpl.Size.Width, tpl.Size.Height)),
		Homography: align.Identity(),
		Matches:    40,
		Inliers:    25,
	}, nil
}

// cardResponse has a code inside the "code" region and a passport-like
// line in the full text.
func cardResponse() *ocr.Response {
	return &ocr.Response{
		Text: "ПАСПОРТ 45 09 123456",
		Annotations: []ocr.TextAnnotation{{
			Text:     "2322803756",
			Vertices: []utils.Point{{X: 5, Y: 5}, {X: 40, Y: 5}, {X: 40, Y: 15}, {X: 5, Y: 15}},
		}},
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.RecognizePayload
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, p queue.RecognizePayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, p)
	return p.JobID, nil
}

type fixture struct {
	srv   *Server
	h     http.Handler
	store *store.Memory
}

func newFixture(t *testing.T, a align.Aligner, ocrErr error, opts ...Option) *fixture {
	t.Helper()
	tpl, err := template.New("doc", "unused.png", template.Size{Width: 60, Height: 20},
		[]template.Region{{Name: "code", Type: template.FieldInteger, Box: utils.NewBox(0, 0, 60, 20)}})
	require.NoError(t, err)
	dl, err := template.New(DefaultDriverLicenseTemplate, "unused.png", template.Size{Width: 60, Height: 20},
		[]template.Region{{Name: "code", Type: template.FieldInteger, Box: utils.NewBox(0, 0, 60, 20)}})
	require.NoError(t, err)
	reg := template.NewRegistry()
	require.NoError(t, reg.Add(tpl))
	require.NoError(t, reg.Add(dl))

	backend := ocr.BackendFunc(func(context.Context, ocr.Image) (*ocr.Response, error) {
		if ocrErr != nil {
			return nil, ocrErr
		}
		return cardResponse(), nil
	})
	p, err := pipeline.NewBuilder().WithAligner(a).WithOCR(backend).Build()
	require.NoError(t, err)

	mem := store.NewMemory()
	svc := &service.Service{Runner: p, Templates: reg, Store: mem}
	srv, err := NewServer(DefaultConfig(), svc, opts...)
	require.NoError(t, err)
	return &fixture{srv: srv, h: srv.Handler(), store: mem}
}

func photoBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.CreateTestImage(30, 20, color.White)))
	return buf.Bytes()
}

// multipartRequest builds a POST with an "image" file and form fields.
func multipartRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxUploadMB = 0
	_, err = NewServer(cfg, &service.Service{})
	require.Error(t, err)

	for _, port := range []int{0, -1, 65536} {
		cfg = DefaultConfig()
		cfg.Port = port
		assert.Error(t, cfg.Validate(), "port %d", port)
	}
	cfg = DefaultConfig()
	cfg.Port = 1
	assert.NoError(t, cfg.Validate())
}

func TestHealthAndTemplates(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil, WithQueue(&fakeQueue{}))

	rec := serve(f.h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Templates)
	assert.True(t, health.Store)
	assert.True(t, health.Queue)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(f.h, httptest.NewRequest(http.MethodGet, "/templates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[TemplatesResponse](t, rec)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "doc", list.Templates[0].Name)
	assert.Equal(t, []RegionInfo{{Name: "code", Type: "integer", Box: [4]float64{0, 0, 60, 20}}}, list.Templates[0].Regions)

	rec = serve(f.h, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	rec := serve(f.h, httptest.NewRequest(http.MethodOptions, "/recognize", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRecognize(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	req := multipartRequest(t, "/recognize", "card.png", photoBytes(t), map[string]string{"template": "doc", "job_id": "j-1"})

	rec := serve(f.h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RecognizeResponse](t, rec)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "j-1", resp.Result.JobID)
	assert.JSONEq(t, `{"code":2322803756}`, string(resp.Result.Fields))
	require.NotNil(t, resp.Result.Align)
	assert.Equal(t, 25, resp.Result.Align.Inliers)

	stored, err := f.store.Get(context.Background(), resp.Result.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, stored.Status)
}

func TestRecognizeErrors(t *testing.T) {
	alignErr := &align.AlignmentError{Template: "doc", Reason: "not enough matches", Matches: 2}
	tests := []struct {
		name    string
		aligner align.Aligner
		ocrErr  error
		data    []byte
		fields  map[string]string
		status  int
		code    string
	}{
		{
			name:   "missing template field",
			fields: map[string]string{},
			status: http.StatusBadRequest,
			code:   "missing_template",
		},
		{
			name:   "unknown template",
			fields: map[string]string{"template": "nope"},
			status: http.StatusNotFound,
			code:   "template_not_found",
		},
		{
			name:    "alignment failure",
			aligner: fakeAligner{err: alignErr},
			fields:  map[string]string{"template": "doc"},
			status:  http.StatusUnprocessableEntity,
			code:    "alignment_failed",
		},
		{
			name:   "ocr failure",
			ocrErr: &ocr.BackendError{Backend: "fake", Err: errors.New("quota")},
			fields: map[string]string{"template": "doc"},
			status: http.StatusBadGateway,
			code:   "ocr_failed",
		},
		{
			name:   "undecodable photo",
			data:   []byte("not an image"),
			fields: map[string]string{"template": "doc"},
			status: http.StatusBadRequest,
			code:   "invalid_image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.aligner
			if a == nil {
				a = fakeAligner{}
			}
			f := newFixture(t, a, tt.ocrErr)
			data := tt.data
			if data == nil {
				data = photoBytes(t)
			}
			rec := serve(f.h, multipartRequest(t, "/recognize", "card.png", data, tt.fields))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			if tt.code == "alignment_failed" {
				require.NotNil(t, resp.Matches)
				assert.Equal(t, 2, *resp.Matches)
			}
		})
	}
}

func TestRecognizeMissingFile(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	rec := serve(f.h, multipartRequest(t, "/recognize", "", nil, map[string]string{"template": "doc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_file", decode[ErrorResponse](t, rec).Code)
}

func TestRecognizeUploadTooLarge(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	f.srv.cfg.MaxUploadMB = 1
	big := make([]byte, 2*1024*1024)
	rec := serve(f.h, multipartRequest(t, "/recognize", "card.png", big, map[string]string{"template": "doc"}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecognizeBrokenPDF(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	rec := serve(f.h, multipartRequest(t, "/recognize", "scan.pdf", []byte("%PDF-1.4 garbage"), map[string]string{"template": "doc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_image", decode[ErrorResponse](t, rec).Code)
}

func TestAlign(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	rec := serve(f.h, multipartRequest(t, "/align", "card.png", photoBytes(t), map[string]string{"template": "doc", "quality": "80"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "25", rec.Header().Get("X-Align-Inliers"))
	assert.Equal(t, "40", rec.Header().Get("X-Align-Matches"))

	img, _, err := utils.DecodeImage(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Pt(60, 20), img.Bounds().Size())
}

func TestPassport(t *testing.T) {
	f := newFixture(t, fakeAligner{err: errors.New("must not align")}, nil)
	rec := serve(f.h, multipartRequest(t, "/passport", "p.png", photoBytes(t), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"serial_number":"45 09","number":"123456"}`, rec.Body.String())

	rec = serve(f.h, multipartRequest(t, "/passport", "p.png", photoBytes(t), map[string]string{"serial_pattern": "("}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDriverLicense(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)

	rec := serve(f.h, multipartRequest(t, "/driver-license", "dl.png", photoBytes(t), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dl struct {
		Code *int64 `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dl))
	require.NotNil(t, dl.Code)
	assert.Equal(t, int64(2322803756), *dl.Code)

	// "45 09 123456" is a ten digit code in 2-2-6 groups.
	rec = serve(f.h, multipartRequest(t, "/driver-license", "dl.png", photoBytes(t), map[string]string{"mode": "regex"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dl))
	require.NotNil(t, dl.Code)
	assert.Equal(t, int64(4509123456), *dl.Code)
}

func TestEnqueue(t *testing.T) {
	q := &fakeQueue{}
	f := newFixture(t, fakeAligner{}, nil, WithQueue(q))
	data := photoBytes(t)

	rec := serve(f.h, multipartRequest(t, "/jobs", "card.png", data, map[string]string{"template": "doc"}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[JobResponse](t, rec)
	assert.NotEmpty(t, resp.JobID)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, resp.JobID, q.payloads[0].JobID)
	assert.Equal(t, data, q.payloads[0].Image)

	rec = serve(f.h, multipartRequest(t, "/jobs", "card.png", data, map[string]string{"template": "nope"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	q.err = errors.New("redis down")
	rec = serve(f.h, multipartRequest(t, "/jobs", "card.png", data, map[string]string{"template": "doc"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEnqueueWithoutQueue(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	rec := serve(f.h, multipartRequest(t, "/jobs", "card.png", photoBytes(t), map[string]string{"template": "doc"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "queue_disabled", decode[ErrorResponse](t, rec).Code)
}

func TestRecords(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	rec := serve(f.h, multipartRequest(t, "/recognize", "card.png", photoBytes(t), map[string]string{"template": "doc"}))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[RecognizeResponse](t, rec).Result.ID

	rec = serve(f.h, httptest.NewRequest(http.MethodGet, "/records?template=doc&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Records []store.Entry `json:"records"`
		Count   int           `json:"count"`
	}](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Records[0].ID)

	rec = serve(f.h, httptest.NewRequest(http.MethodGet, "/records/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[store.Entry](t, rec).ID)

	rec = serve(f.h, httptest.NewRequest(http.MethodGet, "/records/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.h, httptest.NewRequest(http.MethodGet, "/records/00000000-0000-0000-0000-000000000001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(f.h, httptest.NewRequest(http.MethodGet, "/records?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitedEndpoint(t *testing.T) {
	rl := NewRateLimiter(1, 0, 0, 0)
	f := newFixture(t, fakeAligner{}, nil, WithRateLimiter(rl))

	first := serve(f.h, multipartRequest(t, "/recognize", "card.png", photoBytes(t), map[string]string{"template": "doc"}))
	require.Equal(t, http.StatusOK, first.Code)

	second := serve(f.h, multipartRequest(t, "/recognize", "card.png", photoBytes(t), map[string]string{"template": "doc"}))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "minute", second.Header().Get("X-RateLimit-Type"))
	assert.Equal(t, "rate_limit_exceeded", decode[ErrorResponse](t, second).Code)

	// health is not limited
	assert.Equal(t, http.StatusOK, serve(f.h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	serve(f.h, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := serve(f.h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docrec_http_requests_total")
}

func TestRequestTimeout(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)
	f.srv.cfg.TimeoutSec = 0
	ctx, cancel := f.srv.requestContext(httptest.NewRequest(http.MethodGet, "/", nil))
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	f.srv.cfg.TimeoutSec = 5
	ctx2, cancel2 := f.srv.requestContext(httptest.NewRequest(http.MethodGet, "/", nil))
	defer cancel2()
	deadline, ok := ctx2.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{pipeline.ErrNoTemplate, http.StatusBadRequest},
		{&template.FormatError{Source: "x.xml", Field: "size", Err: errors.New("bad")}, http.StatusBadRequest},
		{ocr.ErrUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
