package pdf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// ErrPassword is returned when a scan is encrypted and the supplied
// credentials do not open it.
var ErrPassword = errors.New("pdf: password required")

// Credentials holds the passwords of an encrypted scan.
type Credentials struct {
	UserPassword  string `json:"user_password,omitempty" yaml:"user_password"`
	OwnerPassword string `json:"owner_password,omitempty" yaml:"owner_password"`
}

func (c Credentials) empty() bool { return c.UserPassword == "" && c.OwnerPassword == "" }

func (c Credentials) configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = c.UserPassword
	conf.OwnerPW = c.OwnerPassword
	return conf
}

// IsPasswordError reports whether err came from an encrypted document.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPassword) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"password", "encrypted", "decrypt"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// decrypt returns a path to a decrypted copy of filename and a cleanup
// func. Unencrypted files are returned unchanged.
func decrypt(filename string, creds Credentials) (string, func(), error) {
	noop := func() {}
	if _, err := api.PageCountFile(filename); err == nil {
		return filename, noop, nil
	} else if !IsPasswordError(err) {
		return "", noop, &utils.ImageProcessingError{Operation: "read pdf", Err: err}
	}
	if creds.empty() {
		return "", noop, fmt.Errorf("%s: %w", filename, ErrPassword)
	}

	tmp, err := os.CreateTemp("", "docrec-decrypted-*.pdf")
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if err := api.DecryptFile(filename, tmp.Name(), creds.configuration()); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("%s: %w: %v", filename, ErrPassword, err)
	}
	return tmp.Name(), cleanup, nil
}
