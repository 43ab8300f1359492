package preprocess

import (
	"image"

	"gocv.io/x/gocv"
)

// assumedPageWidthInches is the physical width assumed when no DPI metadata is
// available. Printed scores are most often landscape-oriented letter pages.
const assumedPageWidthInches = 11.0

// EffectiveDPI estimates the scanning resolution of a raster. A positive
// metadataDPI (from file metadata) wins; otherwise the pixel width is measured
// against the assumed physical page width.
func EffectiveDPI(m gocv.Mat, metadataDPI float64) float64 {
	if metadataDPI > 0 {
		return metadataDPI
	}
	return float64(m.Cols()) / assumedPageWidthInches
}

// Normalize upscales m with bicubic interpolation when its effective DPI is
// below targetDPI. It never downscales: a raster at or above target is
// returned as an untouched copy. The bool reports whether scaling happened.
func Normalize(m gocv.Mat, targetDPI int, metadataDPI float64) (gocv.Mat, bool) {
	current := EffectiveDPI(m, metadataDPI)
	if current >= float64(targetDPI) {
		return m.Clone(), false
	}

	scale := float64(targetDPI) / current
	newWidth := int(float64(m.Cols()) * scale)
	newHeight := int(float64(m.Rows()) * scale)

	dst := gocv.NewMat()
	gocv.Resize(m, &dst, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationCubic)
	return dst, true
}
