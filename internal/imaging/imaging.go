// Package imaging validates uploaded score files and probes their metadata
// ahead of the preprocessing pipeline, so malformed uploads surface as
// validation failures rather than processing failures.
package imaging

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Workers probe uploads concurrently; the MagickWand environment must be
// initialized once and never torn down while wands are live.
var initOnce sync.Once

func ensureInit() {
	initOnce.Do(imagick.Initialize)
}

// AllowedExtensions lists the upload formats accepted for recognition.
var AllowedExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".pdf"}

// ValidationError distinguishes upload validation from processing failures.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload %s: %s", filepath.Base(e.Path), e.Reason)
}

// ValidateUpload checks the file extension and verifies the file is decodable
// before it is accepted into the job queue.
func ValidateUpload(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	allowed := false
	for _, a := range AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("unsupported file type %q", ext)}
	}

	ensureInit()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return &ValidationError{Path: path, Reason: "file is not a readable image"}
	}
	if mw.GetImageWidth() == 0 || mw.GetImageHeight() == 0 {
		return &ValidationError{Path: path, Reason: "image has zero dimensions"}
	}
	return nil
}

// ProbeDPI reads resolution metadata from an image file. Returns 0 when the
// file carries no usable resolution information, letting the caller fall back
// to a pixel-dimension estimate.
func ProbeDPI(path string) float64 {
	ensureInit()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return 0
	}

	x, y := mw.GetImageResolution()
	dpi := x
	if y > dpi {
		dpi = y
	}
	if dpi <= 0 {
		return 0
	}

	switch mw.GetImageUnits() {
	case imagick.RESOLUTION_PIXELS_PER_CENTIMETER:
		return dpi * 2.54
	case imagick.RESOLUTION_PIXELS_PER_INCH:
		return dpi
	default:
		// Units unknown: resolution numbers without units are not trustworthy.
		return 0
	}
}
