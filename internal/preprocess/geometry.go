package preprocess

import (
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

const (
	// SkewSignificanceDeg is the angle below which no rotation correction is applied.
	SkewSignificanceDeg = 0.5

	// minQuadAreaRatio is the smallest fraction of the image a candidate
	// document boundary may enclose.
	minQuadAreaRatio = 0.2

	houghThreshold = 200
	angleBinWidth  = 1.0 // degrees
)

// SkewEstimate is the result of staff-line angle detection.
type SkewEstimate struct {
	AngleDegrees float64
	Valid        bool
	LineCount    int
}

// Quad is a document boundary ordered top-left, top-right, bottom-right, bottom-left.
type Quad struct {
	TL, TR, BR, BL gocv.Point2f
}

// EstimateSkew detects the dominant near-horizontal line angle in a grayscale
// raster. Staff lines dominate the Hough accumulator in score images, so the
// dominant angle cluster is the page skew. Returns an invalid estimate when no
// usable lines are found; it never fails.
func EstimateSkew(gray gocv.Mat) SkewEstimate {
	if gray.Empty() {
		return SkewEstimate{}
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLines(edges, &lines, 1, math.Pi/180, houghThreshold)

	var angles []float64
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVecfAt(i, 0)
		theta := float64(v[1])
		angle := theta*180/math.Pi - 90
		// Staff lines are horizontal; drop near-vertical detections.
		if angle > -45 && angle < 45 {
			angles = append(angles, angle)
		}
	}
	if len(angles) == 0 {
		return SkewEstimate{}
	}

	return SkewEstimate{
		AngleDegrees: dominantAngle(angles),
		Valid:        true,
		LineCount:    len(angles),
	}
}

// dominantAngle bins angles and returns the median of the most populated bin
// and its immediate neighbors. Text, margins and barlines produce outlier
// angles that a plain median over all lines would drag toward.
func dominantAngle(angles []float64) float64 {
	bins := make(map[int][]float64)
	for _, a := range angles {
		bins[int(math.Floor(a/angleBinWidth))] = append(bins[int(math.Floor(a/angleBinWidth))], a)
	}

	best, bestCount := 0, -1
	for bin, members := range bins {
		count := len(members) + len(bins[bin-1]) + len(bins[bin+1])
		if count > bestCount || (count == bestCount && bin < best) {
			best, bestCount = bin, count
		}
	}

	cluster := append([]float64{}, bins[best]...)
	cluster = append(cluster, bins[best-1]...)
	cluster = append(cluster, bins[best+1]...)
	sort.Float64s(cluster)
	return cluster[len(cluster)/2]
}

// Rotate returns a copy of m rotated by angle degrees around its center, with
// the canvas expanded so no content is cropped and new area filled white.
func Rotate(m gocv.Mat, angleDeg float64) gocv.Mat {
	width, height := m.Cols(), m.Rows()
	center := image.Pt(width/2, height/2)
	rot := gocv.GetRotationMatrix2D(center, angleDeg, 1.0)
	defer rot.Close()

	cos := math.Abs(rot.GetDoubleAt(0, 0))
	sin := math.Abs(rot.GetDoubleAt(0, 1))
	newWidth := int(float64(height)*sin + float64(width)*cos)
	newHeight := int(float64(height)*cos + float64(width)*sin)

	rot.SetDoubleAt(0, 2, rot.GetDoubleAt(0, 2)+float64(newWidth)/2-float64(center.X))
	rot.SetDoubleAt(1, 2, rot.GetDoubleAt(1, 2)+float64(newHeight)/2-float64(center.Y))

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(m, &dst, rot, image.Pt(newWidth, newHeight),
		gocv.InterpolationCubic, gocv.BorderConstant, color.RGBA{R: 255, G: 255, B: 255, A: 0})
	return dst
}

// EstimateDocumentQuad looks for the largest four-cornered contour plausibly
// bounding the photographed page. Absence is a normal outcome (already-cropped
// scans have no boundary), reported via the bool, never as an error.
func EstimateDocumentQuad(gray gocv.Mat) (Quad, bool) {
	if gray.Empty() {
		return Quad{}, false
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type candidate struct {
		index int
		area  float64
	}
	cands := make([]candidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		cands = append(cands, candidate{index: i, area: gocv.ContourArea(contours.At(i))})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].area > cands[j].area })
	if len(cands) > 5 {
		cands = cands[:5]
	}

	minArea := minQuadAreaRatio * float64(gray.Cols()) * float64(gray.Rows())
	for _, c := range cands {
		if c.area < minArea {
			continue
		}
		contour := contours.At(c.index)
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.02*peri, true)
		if approx.Size() == 4 {
			q := orderQuad(approx.ToPoints())
			approx.Close()
			return q, true
		}
		approx.Close()
	}
	return Quad{}, false
}

// WarpToQuad applies the projective transform that maps q onto an axis-aligned
// rectangle sized by the quad's longer opposing edges.
func WarpToQuad(m gocv.Mat, q Quad) gocv.Mat {
	widthBottom := dist(q.BR, q.BL)
	widthTop := dist(q.TR, q.TL)
	maxWidth := int(math.Max(widthBottom, widthTop))

	heightRight := dist(q.TR, q.BR)
	heightLeft := dist(q.TL, q.BL)
	maxHeight := int(math.Max(heightRight, heightLeft))

	src := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{q.TL, q.TR, q.BR, q.BL})
	defer src.Close()
	dstPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: float32(maxWidth - 1), Y: 0},
		{X: float32(maxWidth - 1), Y: float32(maxHeight - 1)},
		{X: 0, Y: float32(maxHeight - 1)},
	})
	defer dstPts.Close()

	transform := gocv.GetPerspectiveTransform2f(src, dstPts)
	defer transform.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(m, &dst, transform, image.Pt(maxWidth, maxHeight))
	return dst
}

// orderQuad sorts four corners into TL, TR, BR, BL. The top-left corner has
// the smallest x+y sum, the bottom-right the largest; the diff x-y separates
// the remaining two.
func orderQuad(pts []image.Point) Quad {
	var q Quad
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		sum := float64(p.X + p.Y)
		diff := float64(p.Y - p.X)
		pt := gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		if sum < minSum {
			minSum, q.TL = sum, pt
		}
		if sum > maxSum {
			maxSum, q.BR = sum, pt
		}
		if diff < minDiff {
			minDiff, q.TR = diff, pt
		}
		if diff > maxDiff {
			maxDiff, q.BL = diff, pt
		}
	}
	return q
}

func dist(a, b gocv.Point2f) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
