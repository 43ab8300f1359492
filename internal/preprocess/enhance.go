package preprocess

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyRaster reports a zero-sized input to a pixel transform.
var ErrEmptyRaster = errors.New("empty raster")

const (
	denoiseStrength     = 10
	denoiseTemplateSize = 7
	denoiseSearchSize   = 21

	claheClipLimit = 2.0
	claheTileSize  = 8

	binarizeBlockSize = 15
	binarizeOffset    = 10
)

// ToGrayscale reduces a color raster to single-channel luminance. Grayscale
// input is returned as a copy.
func ToGrayscale(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, ErrEmptyRaster
	}
	if src.Channels() == 1 {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return dst, nil
}

// Denoise applies non-local-means denoising. Sensor noise from phone cameras
// is suppressed while note stems and staff-line edges stay sharp. This is the
// most expensive stage and is config-gated by the pipeline.
func Denoise(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, ErrEmptyRaster
	}
	dst := gocv.NewMat()
	gocv.FastNlMeansDenoisingWithParams(src, &dst, denoiseStrength, denoiseTemplateSize, denoiseSearchSize)
	return dst, nil
}

// EnhanceContrast applies CLAHE. Tile-local equalization with clipping handles
// the uneven lighting typical of photographed pages without the blocking or
// over-amplification of plain histogram equalization.
func EnhanceContrast(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, ErrEmptyRaster
	}
	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheTileSize, claheTileSize))
	defer clahe.Close()

	dst := gocv.NewMat()
	clahe.Apply(src, &dst)
	return dst, nil
}

// Binarize thresholds a grayscale raster into strict bi-level output using a
// Gaussian-weighted local threshold, so shadows and gradients across the page
// do not blacken whole regions the way a global threshold would.
func Binarize(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, ErrEmptyRaster
	}
	dst := gocv.NewMat()
	gocv.AdaptiveThreshold(src, &dst, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary,
		binarizeBlockSize, binarizeOffset)
	return dst, nil
}
