package model

import (
	"errors"
	"fmt"
)

// ChannelOrder declares how colour channels are laid out in an Image.
type ChannelOrder string

const (
	OrderRGB ChannelOrder = "rgb"
	OrderBGR ChannelOrder = "bgr"
)

var ErrEmptyImage = errors.New("empty image tensor")

// Image is a dense height x width x channels tensor stored row-major
// (HWC). Intensities are either 0..255 or already scaled to [0,1].
type Image struct {
	Height   int          `json:"height"`
	Width    int          `json:"width"`
	Channels int          `json:"channels"`
	Order    ChannelOrder `json:"order,omitempty"`
	Data     []float32    `json:"data"`
}

// NewImage allocates a zeroed RGB tensor.
func NewImage(height, width, channels int) Image {
	return Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Order:    OrderRGB,
		Data:     make([]float32, height*width*channels),
	}
}

// Validate checks the tensor is non-empty and its data matches its shape.
func (im Image) Validate() error {
	if im.Height <= 0 || im.Width <= 0 || im.Channels <= 0 || len(im.Data) == 0 {
		return ErrEmptyImage
	}
	if want := im.Height * im.Width * im.Channels; len(im.Data) != want {
		return fmt.Errorf("image data length %d does not match %dx%dx%d", len(im.Data), im.Height, im.Width, im.Channels)
	}
	if im.Order != "" && im.Order != OrderRGB && im.Order != OrderBGR {
		return fmt.Errorf("unknown channel order %q", im.Order)
	}
	return nil
}

func (im Image) index(y, x, c int) int {
	return (y*im.Width+x)*im.Channels + c
}

// At returns the intensity at (y, x, c). No bounds checking beyond the slice's.
func (im Image) At(y, x, c int) float32 {
	return im.Data[im.index(y, x, c)]
}

// Set writes the intensity at (y, x, c).
func (im Image) Set(y, x, c int, v float32) {
	im.Data[im.index(y, x, c)] = v
}

// Shape reports the tensor dimensions as [H, W, C].
func (im Image) Shape() []int {
	return []int{im.Height, im.Width, im.Channels}
}

// MaxValue returns the largest intensity in the tensor.
func (im Image) MaxValue() float32 {
	var m float32
	for _, v := range im.Data {
		if v > m {
			m = v
		}
	}
	return m
}

// Clone returns a deep copy.
func (im Image) Clone() Image {
	out := im
	out.Data = append([]float32(nil), im.Data...)
	return out
}
