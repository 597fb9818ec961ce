package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// ImageAnnotator is the subset of vision.ImageAnnotatorClient used by
// VisionBackend, so tests can substitute it.
type ImageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
}

// VisionBackend calls Google Cloud Vision DOCUMENT_TEXT_DETECTION.
type VisionBackend struct {
	client       ImageAnnotator
	languageHint []string
	closer       func() error
}

// VisionOption configures a VisionBackend.
type VisionOption func(*VisionBackend)

// WithLanguageHints passes BCP-47 language hints to the API.
func WithLanguageHints(langs ...string) VisionOption {
	return func(v *VisionBackend) { v.languageHint = langs }
}

// NewVisionBackend wraps an existing annotator.
func NewVisionBackend(client ImageAnnotator, opts ...VisionOption) *VisionBackend {
	v := &VisionBackend{client: client}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DialVision creates a Vision API client. Credentials are taken from
// credentialsFile when non-empty, otherwise from the environment
// (GOOGLE_APPLICATION_CREDENTIALS).
func DialVision(ctx context.Context, credentialsFile string, opts ...VisionOption) (*VisionBackend, error) {
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, clientOpts...)
	if err != nil {
		return nil, &BackendError{Backend: "vision", Err: fmt.Errorf("create client: %w", err)}
	}
	v := NewVisionBackend(client, opts...)
	v.closer = client.Close
	return v, nil
}

// Close releases the underlying client if this backend created it.
func (v *VisionBackend) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer()
}

// Annotate sends img to the API. The first entity annotation returned by
// Vision spans the whole document and is used as the full text only when
// the full text annotation is missing; the remaining ones become fragments.
func (v *VisionBackend) Annotate(ctx context.Context, img Image) (*Response, error) {
	pbImg := &visionpb.Image{}
	if img.IsRemote() {
		pbImg.Source = &visionpb.ImageSource{ImageUri: img.Path}
	} else {
		data, err := img.Bytes()
		if err != nil {
			return nil, err
		}
		pbImg.Content = data
	}

	req := &visionpb.AnnotateImageRequest{
		Image:    pbImg,
		Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
	}
	if len(v.languageHint) > 0 {
		req.ImageContext = &visionpb.ImageContext{LanguageHints: v.languageHint}
	}

	batch, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return nil, &BackendError{Backend: "vision", Err: err}
	}
	if len(batch.GetResponses()) == 0 || batch.GetResponses()[0] == nil {
		return nil, &BackendError{Backend: "vision", Err: errors.New("empty batch response")}
	}
	resp := batch.GetResponses()[0]
	if st := resp.GetError(); st != nil && st.GetCode() != 0 {
		return nil, &BackendError{Backend: "vision", Err: fmt.Errorf("api status %d: %s", st.GetCode(), st.GetMessage())}
	}

	out := convertVisionResponse(resp)
	slog.Debug("Vision annotated image", "fragments", len(out.Annotations), "text_len", len(out.Text))
	return out, nil
}

func convertVisionResponse(resp *visionpb.AnnotateImageResponse) *Response {
	out := &Response{Text: resp.GetFullTextAnnotation().GetText()}
	entities := resp.GetTextAnnotations()
	if len(entities) == 0 {
		return out
	}
	if out.Text == "" {
		out.Text = entities[0].GetDescription()
	}
	out.Annotations = make([]TextAnnotation, 0, len(entities)-1)
	for _, e := range entities[1:] {
		vs := e.GetBoundingPoly().GetVertices()
		pts := make([]utils.Point, len(vs))
		for i, p := range vs {
			pts[i] = utils.Point{X: float64(p.GetX()), Y: float64(p.GetY())}
		}
		out.Annotations = append(out.Annotations, TextAnnotation{
			Text:       e.GetDescription(),
			Vertices:   pts,
			Locale:     e.GetLocale(),
			Confidence: float64(e.GetConfidence()),
			Score:      float64(e.GetScore()),
		})
	}
	return out
}
