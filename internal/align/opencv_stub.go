//go:build !gocv

package align

// NewOpenCV reports that the OpenCV backend is not linked; build with
// -tags=gocv to enable it.
func NewOpenCV(Config) (Aligner, error) {
	return nil, ErrBackendUnavailable
}
