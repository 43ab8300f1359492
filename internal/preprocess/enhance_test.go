package preprocess

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestToGrayscaleColorInput(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 128, 0, 0), 100, 120, gocv.MatTypeCV8UC3)
	defer src.Close()

	gray, err := ToGrayscale(src)
	if err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	defer gray.Close()

	if gray.Channels() != 1 {
		t.Fatalf("expected single channel, got %d", gray.Channels())
	}
	if gray.Cols() != 120 || gray.Rows() != 100 {
		t.Fatalf("dimensions changed: %dx%d", gray.Cols(), gray.Rows())
	}
}

func TestToGrayscalePassThrough(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(80, 0, 0, 0), 50, 50, gocv.MatTypeCV8U)
	defer src.Close()

	gray, err := ToGrayscale(src)
	if err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	defer gray.Close()

	if gray.Channels() != 1 || gray.GetUCharAt(10, 10) != 80 {
		t.Fatalf("pass-through altered the raster")
	}

	// The returned raster is a copy, not an alias.
	src.SetUCharAt(10, 10, 0)
	if gray.GetUCharAt(10, 10) != 80 {
		t.Fatalf("grayscale output aliases its input")
	}
}

func TestEmptyRasterErrors(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	for name, fn := range map[string]func(gocv.Mat) (gocv.Mat, error){
		"grayscale": ToGrayscale,
		"denoise":   Denoise,
		"contrast":  EnhanceContrast,
		"binarize":  Binarize,
	} {
		if _, err := fn(empty); !errors.Is(err, ErrEmptyRaster) {
			t.Fatalf("%s: expected ErrEmptyRaster, got %v", name, err)
		}
	}
}

func TestBinarizeIsBiLevel(t *testing.T) {
	src := gocv.NewMatWithSize(128, 128, gocv.MatTypeCV8U)
	defer src.Close()
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			src.SetUCharAt(y, x, uint8((x*2+y)%256))
		}
	}

	binary, err := Binarize(src)
	if err != nil {
		t.Fatalf("binarize: %v", err)
	}
	defer binary.Close()

	data, err := binary.DataPtrUint8()
	if err != nil {
		t.Fatalf("read binary data: %v", err)
	}
	for i, v := range data {
		if v != 0 && v != 255 {
			t.Fatalf("pixel %d has intermediate value %d", i, v)
		}
	}
}

func TestEnhanceContrastPreservesGeometry(t *testing.T) {
	src := staffImage(400, 300, 0)
	defer src.Close()

	enhanced, err := EnhanceContrast(src)
	if err != nil {
		t.Fatalf("contrast: %v", err)
	}
	defer enhanced.Close()

	if enhanced.Cols() != 400 || enhanced.Rows() != 300 {
		t.Fatalf("contrast changed geometry: %dx%d", enhanced.Cols(), enhanced.Rows())
	}
}
