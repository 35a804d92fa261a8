package interpret

import (
	"errors"
	"fmt"
	"math"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/model"
)

// ErrGradeIndex reports a classifier output outside the grade scale.
var ErrGradeIndex = errors.New("grade index out of range")

// Defect names reported by ProduceGrade.
const (
	DefectDarkSpots     = "dark_spots"
	DefectDiscoloration = "discoloration"
)

const (
	darkThreshold      = 0.15
	darkSpotFraction   = 0.05
	minColorUniformity = 0.5
)

// ProduceGrade maps a grade classification onto the A..E scale and adds
// the image-derived defects and quality attributes.
func ProduceGrade(c model.Classification, img model.Image) (domain.ProduceGrade, error) {
	if c.Index < 0 || c.Index >= len(domain.Grades) {
		return domain.ProduceGrade{}, fmt.Errorf("%w: %d", ErrGradeIndex, c.Index)
	}
	attrs, dark := qualityAttributes(img)
	defects := []string{}
	if dark > darkSpotFraction {
		defects = append(defects, DefectDarkSpots)
	}
	if attrs.Color < minColorUniformity {
		defects = append(defects, DefectDiscoloration)
	}
	return domain.ProduceGrade{
		QualityGrade:      domain.Grades[c.Index],
		Confidence:        c.Confidence(),
		Defects:           defects,
		QualityAttributes: attrs,
	}, nil
}

// qualityAttributes scores a [0,1] image. Size is the fraction of pixels
// that differ from the border, color is one minus twice the intensity
// standard deviation of the foreground, shape is horizontal symmetry.
// It also returns the fraction of dark pixels.
func qualityAttributes(img model.Image) (domain.QualityAttributes, float64) {
	if img.Validate() != nil {
		return domain.QualityAttributes{}, 0
	}
	h, w := img.Height, img.Width
	lum := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for c := 0; c < img.Channels; c++ {
				s += float64(img.At(y, x, c))
			}
			lum[y*w+x] = s / float64(img.Channels)
		}
	}

	var border float64
	var nb int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y == 0 || x == 0 || y == h-1 || x == w-1 {
				border += lum[y*w+x]
				nb++
			}
		}
	}
	border /= float64(nb)

	var fg, dark int
	var sum, sq, asym float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := lum[y*w+x]
			if v < darkThreshold {
				dark++
			}
			asym += math.Abs(v - lum[y*w+(w-1-x)])
			if math.Abs(v-border) > 0.1 {
				fg++
				sum += v
				sq += v * v
			}
		}
	}
	n := float64(h * w)

	color := 1.0
	if fg > 0 {
		mean := sum / float64(fg)
		std := math.Sqrt(math.Max(sq/float64(fg)-mean*mean, 0))
		color = clamp01(1 - 2*std)
	}
	return domain.QualityAttributes{
		Size:  float64(fg) / n,
		Color: color,
		Shape: clamp01(1 - asym/n),
	}, float64(dark) / n
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
