package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokoyetu-ai/internal/model"
)

func gradient(h, w int) model.Image {
	img := model.NewImage(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(y, x, 0, float32(x*255/(w-1)))
			img.Set(y, x, 1, float32(y*255/(h-1)))
			img.Set(y, x, 2, 128)
		}
	}
	return img
}

func TestPrepareCropImage(t *testing.T) {
	img := gradient(20, 30)
	out, err := PrepareCropImage(img, 16)
	require.NoError(t, err)

	assert.Equal(t, []int{16, 16, 3}, out.Shape())
	assert.Equal(t, model.OrderRGB, out.Order)
	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
	assert.InDelta(t, 128.0/255, out.At(5, 5, 2), 1e-6)

	again, err := PrepareCropImage(img, 16)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	// input is untouched
	assert.Equal(t, gradient(20, 30), img)
}

func TestPrepareCropImageSwapsBGR(t *testing.T) {
	img := model.NewImage(4, 4, 3)
	img.Order = model.OrderBGR
	for i := 0; i < len(img.Data); i += 3 {
		img.Data[i] = 255 // blue in BGR
	}

	out, err := PrepareCropImage(img, 4)
	require.NoError(t, err)
	assert.Equal(t, model.OrderRGB, out.Order)
	assert.Equal(t, float32(0), out.At(0, 0, 0))
	assert.Equal(t, float32(1), out.At(0, 0, 2))
}

func TestPrepareCropImageKeepsUnitRange(t *testing.T) {
	img := model.NewImage(2, 2, 1)
	for i := range img.Data {
		img.Data[i] = 0.5
	}
	out, err := PrepareCropImage(img, 2)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, float32(0.5), v)
	}
}

func TestPrepareRejectsMalformed(t *testing.T) {
	_, err := PrepareCropImage(model.Image{}, 8)
	assert.ErrorIs(t, err, model.ErrEmptyImage)

	bad := model.Image{Height: 2, Width: 2, Channels: 3, Data: make([]float32, 5)}
	_, err = PrepareProduceImage(bad, 8)
	assert.Error(t, err)

	_, err = PrepareCropImage(gradient(4, 4), 0)
	assert.Error(t, err)
}

func TestPrepareProduceImageBlurs(t *testing.T) {
	// a flat image is a fixed point of a normalised blur
	flat := model.NewImage(10, 10, 3)
	for i := range flat.Data {
		flat.Data[i] = 200
	}
	out, err := PrepareProduceImage(flat, 12)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 200.0/255, v, 1e-5)
	}

	// an isolated bright pixel is spread to its neighbours
	spot := model.NewImage(9, 9, 1)
	spot.Set(4, 4, 0, 255)
	out, err = PrepareProduceImage(spot, 9)
	require.NoError(t, err)
	assert.Less(t, out.At(4, 4, 0), float32(1))
	assert.Greater(t, out.At(4, 5, 0), float32(0))
	assert.Greater(t, out.At(4, 4, 0), out.At(4, 5, 0))
	assert.Equal(t, float32(0), out.At(0, 0, 0))
}

func TestGaussianKernelSumsToOne(t *testing.T) {
	k := gaussianKernel(5, ProduceBlurSigma)
	var sum float64
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, k[0], k[4])
	assert.Greater(t, k[2], k[1])
}

func TestReflect101(t *testing.T) {
	assert.Equal(t, 1, reflect101(-1, 5))
	assert.Equal(t, 2, reflect101(-2, 5))
	assert.Equal(t, 3, reflect101(5, 5))
	assert.Equal(t, 0, reflect101(3, 1))
}
