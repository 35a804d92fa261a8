package features

import (
	"fmt"
	"math"

	"sokoyetu-ai/internal/model"
)

// ProduceBlurSigma is the Gaussian sigma for a 5x5 kernel when no sigma is
// given: 0.3*((5-1)*0.5-1)+0.8.
const ProduceBlurSigma = 1.1

// PrepareCropImage resizes img to size x size, scales 0..255 intensities
// to [0,1] and returns it in RGB order.
func PrepareCropImage(img model.Image, size int) (model.Image, error) {
	if err := img.Validate(); err != nil {
		return model.Image{}, err
	}
	if size <= 0 {
		return model.Image{}, fmt.Errorf("invalid target size %d", size)
	}
	out := resizeBilinear(img, size, size)
	normalize(&out, img.MaxValue() > 1)
	toRGB(&out)
	return out, nil
}

// PrepareProduceImage normalises like PrepareCropImage and then applies a
// 5x5 Gaussian blur.
func PrepareProduceImage(img model.Image, size int) (model.Image, error) {
	out, err := PrepareCropImage(img, size)
	if err != nil {
		return model.Image{}, err
	}
	return gaussianBlur(out, gaussianKernel(5, ProduceBlurSigma)), nil
}

// resizeBilinear samples pixel centres the way OpenCV's INTER_LINEAR does.
func resizeBilinear(img model.Image, h, w int) model.Image {
	out := model.NewImage(h, w, img.Channels)
	out.Order = img.Order
	if img.Height == h && img.Width == w {
		copy(out.Data, img.Data)
		return out
	}
	sy := float64(img.Height) / float64(h)
	sx := float64(img.Width) / float64(w)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0, wy := split(fy, img.Height)
		y1 := min(y0+1, img.Height-1)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0, wx := split(fx, img.Width)
			x1 := min(x0+1, img.Width-1)
			for c := 0; c < img.Channels; c++ {
				top := float64(img.At(y0, x0, c))*(1-wx) + float64(img.At(y0, x1, c))*wx
				bot := float64(img.At(y1, x0, c))*(1-wx) + float64(img.At(y1, x1, c))*wx
				out.Set(y, x, c, float32(top*(1-wy)+bot*wy))
			}
		}
	}
	return out
}

// split returns the lower source index and the interpolation weight for
// a fractional coordinate, clamped to [0, n-1].
func split(f float64, n int) (int, float64) {
	if f <= 0 {
		return 0, 0
	}
	i := int(math.Floor(f))
	if i >= n-1 {
		return n - 1, 0
	}
	return i, f - float64(i)
}

func normalize(img *model.Image, from255 bool) {
	for i, v := range img.Data {
		if from255 {
			v /= 255
		}
		img.Data[i] = min(max(v, 0), 1)
	}
}

func toRGB(img *model.Image) {
	if img.Order == model.OrderBGR && img.Channels >= 3 {
		for i := 0; i < len(img.Data); i += img.Channels {
			img.Data[i], img.Data[i+2] = img.Data[i+2], img.Data[i]
		}
	}
	img.Order = model.OrderRGB
}

func gaussianKernel(size int, sigma float64) []float64 {
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect101 mirrors an out-of-range index without repeating the edge.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// gaussianBlur applies a separable kernel horizontally then vertically.
func gaussianBlur(img model.Image, k []float64) model.Image {
	half := len(k) / 2
	tmp := model.NewImage(img.Height, img.Width, img.Channels)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			for c := 0; c < img.Channels; c++ {
				var s float64
				for i, kv := range k {
					s += kv * float64(img.At(y, reflect101(x+i-half, img.Width), c))
				}
				tmp.Set(y, x, c, float32(s))
			}
		}
	}
	out := model.NewImage(img.Height, img.Width, img.Channels)
	out.Order = img.Order
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			for c := 0; c < img.Channels; c++ {
				var s float64
				for i, kv := range k {
					s += kv * float64(tmp.At(reflect101(y+i-half, img.Height), x, c))
				}
				out.Set(y, x, c, float32(s))
			}
		}
	}
	return out
}
