package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/recognize"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/testutil"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

type fakeAligner struct {
	err   error
	calls atomic.Int32
}

func (f *fakeAligner) Align(_ context.Context, _ image.Image, tpl *template.Template) (*align.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &align.Result{
		Image:      image.NewNRGBA(image.Rect(0, 0, tpl.Size.Width, tpl.Size.Height)),
		Homography: align.Identity(),
	}, nil
}

func frag(text string, x0, y0, x1, y1 float64) ocr.TextAnnotation {
	return ocr.TextAnnotation{
		Text:     text,
		Vertices: []utils.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}},
	}
}

func docTemplate(t *testing.T) *template.Template {
	t.Helper()
	tpl, err := template.New("doc", "unused.png", template.Size{Width: 100, Height: 50, Depth: 3},
		[]template.Region{{Name: "number", Type: template.FieldInteger, Box: utils.NewBox(0, 0, 100, 50)}})
	require.NoError(t, err)
	return tpl
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func photoBytes(t *testing.T) []byte {
	t.Helper()
	return pngBytes(t, testutil.CreateTestImage(40, 30, color.White))
}

func build(t *testing.T, a align.Aligner, backend ocr.Backend) *Pipeline {
	t.Helper()
	p, err := NewBuilder().WithAligner(a).WithOCR(backend).Build()
	require.NoError(t, err)
	return p
}

func TestRecognizeSendsAlignedImageToOCR(t *testing.T) {
	q := ocr.NewQueue(&ocr.Response{Annotations: []ocr.TextAnnotation{frag("42", 10, 10, 30, 20)}})
	p := build(t, &fakeAligner{}, q)

	rec, err := p.Recognize(context.Background(), FromBytes(photoBytes(t)), docTemplate(t))
	require.NoError(t, err)
	n, ok := rec.Int("number")
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	calls := q.Calls()
	require.Len(t, calls, 1)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(calls[0].Content))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestRecognizeEndToEndWithORB(t *testing.T) {
	card := testutil.GenerateCard(testutil.DefaultCardConfig())
	tpl, err := template.FromImage("card", card, []template.Region{
		{Name: "code", Type: template.FieldInteger, Box: utils.NewBox(245, 260, 400, 280)},
		{Name: "abode", Type: template.FieldString, Box: utils.NewBox(245, 282, 600, 300)},
	})
	require.NoError(t, err)

	photo := testutil.Translate(card, 9, 4, testutil.CardSize)
	q := ocr.NewQueue(&ocr.Response{Annotations: []ocr.TextAnnotation{
		frag("2322803756", 241, 261, 322, 271),
		frag("ХАНТЫ", 241, 283, 290, 297),
	}})
	p, err := NewBuilder().WithOCR(q).Build()
	require.NoError(t, err)

	out := p.Process(context.Background(), Job{ID: "j1", Source: FromBytes(pngBytes(t, photo)), Template: tpl})
	require.NoError(t, out.Err)
	assert.Equal(t, "j1", out.JobID)
	assert.Equal(t, "card", out.Template)
	require.NotNil(t, out.Align)
	assert.GreaterOrEqual(t, out.Align.Inliers, 4)

	code, ok := out.Record.Int("code")
	require.True(t, ok)
	assert.Equal(t, int64(2322803756), code)
	abode, _ := out.Record.String("abode")
	assert.Equal(t, "ХАНТЫ", abode)
	assert.Equal(t, int64(1), p.Profiler().Photos.Load())
}

func TestRecognizePropagatesAlignmentError(t *testing.T) {
	aerr := &align.AlignmentError{Template: "doc", Reason: "too few matches"}
	q := ocr.NewQueue(&ocr.Response{})
	p := build(t, &fakeAligner{err: aerr}, q)

	_, err := p.Recognize(context.Background(), FromBytes(photoBytes(t)), docTemplate(t))
	assert.Same(t, aerr, err)
	assert.ErrorIs(t, err, align.ErrAlignment)
	assert.Empty(t, q.Calls(), "OCR must not run after a failed alignment")
}

func TestRecognizePropagatesOCRErrorWithoutRetry(t *testing.T) {
	oerr := errors.New("vision unavailable")
	q := ocr.NewQueue()
	q.PushError(oerr)
	q.Push(&ocr.Response{})
	p := build(t, &fakeAligner{}, q)

	_, err := p.Recognize(context.Background(), FromBytes(photoBytes(t)), docTemplate(t))
	assert.Equal(t, oerr, err)
	assert.Equal(t, 1, q.Len())
}

func TestRecognizeInputErrors(t *testing.T) {
	p := build(t, &fakeAligner{}, ocr.NewQueue())

	_, err := p.Recognize(context.Background(), FromBytes(photoBytes(t)), nil)
	assert.ErrorIs(t, err, ErrNoTemplate)

	_, err = p.Recognize(context.Background(), FromBytes([]byte("not an image")), docTemplate(t))
	var ipe *utils.ImageProcessingError
	assert.ErrorAs(t, err, &ipe)

	_, err = p.Recognize(context.Background(), Source{}, docTemplate(t))
	assert.ErrorAs(t, err, &ipe)
}

func TestRecognizeFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	testutil.SaveImage(t, testutil.CreateTestImage(40, 30, color.White), path)
	q := ocr.NewQueue(&ocr.Response{})
	p := build(t, &fakeAligner{}, q)

	rec, err := p.Recognize(context.Background(), FromPath(path), docTemplate(t))
	require.NoError(t, err)
	v, ok := rec.Get("number")
	require.True(t, ok)
	assert.False(t, v.Present())
	assert.Equal(t, path, q.Calls()[0].Path)
	assert.Equal(t, "photo.png", FromPath(path).Name())
}

func TestRecognizeAsRegexUsesRawPhoto(t *testing.T) {
	raw := photoBytes(t)
	q := ocr.NewQueue(&ocr.Response{Text: "ПАСПОРТ\n03 15 084752\n"})
	fa := &fakeAligner{}
	p := build(t, fa, q)

	r, err := recognize.NewPassportByRegex("", "")
	require.NoError(t, err)
	passport, err := RecognizeAs[recognize.Passport](context.Background(), p, FromBytes(raw), r)
	require.NoError(t, err)
	assert.Equal(t, "03 15", *passport.SerialNumber)
	assert.Equal(t, "084752", *passport.Number)

	assert.Zero(t, fa.calls.Load(), "regex strategies skip alignment")
	assert.Equal(t, raw, q.Calls()[0].Content)
}

func TestRecognizeAsTemplateStrategyAligns(t *testing.T) {
	tpl := docTemplate(t)
	q := ocr.NewQueue(&ocr.Response{Annotations: []ocr.TextAnnotation{frag("7", 1, 1, 5, 5)}})
	fa := &fakeAligner{}
	p := build(t, fa, q)

	rec, err := RecognizeAs[*extract.Record](context.Background(), p, FromBytes(photoBytes(t)), recognize.NewByTemplate(tpl, nil))
	require.NoError(t, err)
	n, _ := rec.Int("number")
	assert.Equal(t, int64(7), n)
	assert.Equal(t, int32(1), fa.calls.Load())
}

func TestRecognizeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := build(t, &fakeAligner{}, ocr.NewQueue(&ocr.Response{}))
	_, err := p.Recognize(ctx, FromBytes(photoBytes(t)), docTemplate(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.ErrorIs(t, err, ErrNoOCR)

	cfg := DefaultConfig()
	cfg.JPEGQuality = 0
	_, err = NewBuilder().WithConfig(cfg).WithOCR(ocr.NewQueue()).Build()
	assert.Error(t, err)

	b := NewBuilder().WithJPEGQuality(80).WithWorkers(3).WithQueueSize(5)
	assert.Equal(t, 80, b.Config().JPEGQuality)
	assert.Equal(t, 3, b.Config().Parallel.Workers)
	assert.Equal(t, 5, b.Config().Parallel.QueueSize)
}

type countingProgress struct {
	started, completed atomic.Int32
	progress, errors   atomic.Int32
}

func (c *countingProgress) OnStart(int)         { c.started.Add(1) }
func (c *countingProgress) OnProgress(int, int) { c.progress.Add(1) }
func (c *countingProgress) OnComplete()         { c.completed.Add(1) }
func (c *countingProgress) OnError(int, error)  { c.errors.Add(1) }

// pathEcho answers every OCR call with the base name of the photo as a
// fragment, so outcomes can be matched to jobs.
func pathEcho() ocr.Backend {
	return ocr.BackendFunc(func(_ context.Context, img ocr.Image) (*ocr.Response, error) {
		name := strings.TrimSuffix(filepath.Base(img.Path), filepath.Ext(img.Path))
		if name == "13" {
			return nil, errors.New("unreadable")
		}
		return &ocr.Response{Annotations: []ocr.TextAnnotation{frag(name, 10, 10, 20, 20)}}, nil
	})
}

// photoJobs writes n photos named 10.png, 11.png, ... and returns a job
// for each.
func photoJobs(t *testing.T, tpl *template.Template, n int) []Job {
	t.Helper()
	dir := t.TempDir()
	img := testutil.CreateTestImage(20, 20, color.White)
	jobs := make([]Job, n)
	for i := range n {
		path := filepath.Join(dir, fmt.Sprintf("%d.png", 10+i))
		testutil.SaveImage(t, img, path)
		jobs[i] = Job{ID: filepath.Base(path), Source: FromPath(path), Template: tpl}
	}
	return jobs
}

func TestSyncRecognizeBatch(t *testing.T) {
	tpl := docTemplate(t)
	prog := &countingProgress{}
	p, err := NewBuilder().WithAligner(&fakeAligner{}).WithOCR(pathEcho()).WithProgressCallback(prog).Build()
	require.NoError(t, err)

	jobs := photoJobs(t, tpl, 5)
	outs := p.RecognizeBatch(context.Background(), jobs)
	require.Len(t, outs, 5)
	for i, out := range outs {
		assert.Equal(t, i, out.Index)
		if i == 3 {
			assert.EqualError(t, out.Err, "unreadable")
			continue
		}
		require.NoError(t, out.Err)
		n, _ := out.Record.Int("number")
		assert.Equal(t, int64(10+i), n)
	}
	assert.Equal(t, int32(1), prog.errors.Load())
	assert.Equal(t, int32(1), prog.started.Load())
	assert.Equal(t, int32(5), prog.progress.Load())
	assert.Equal(t, int32(1), prog.completed.Load())
}
