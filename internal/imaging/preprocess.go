package imaging

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

const DefaultImageSize = 224

var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor resizes an image to a square and converts it into a
// normalized CHW float tensor.
type Preprocessor struct {
	size uint
	mean [3]float32
	std  [3]float32
}

func NewPreprocessor(size int, mean, std [3]float32) (*Preprocessor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", size)
	}
	for i, s := range std {
		if s == 0 {
			return nil, fmt.Errorf("std for channel %d must be non-zero", i)
		}
	}
	return &Preprocessor{size: uint(size), mean: mean, std: std}, nil
}

func (p *Preprocessor) Size() int { return int(p.size) }

// TensorLen is the number of values Tensor returns.
func (p *Preprocessor) TensorLen() int {
	return 3 * int(p.size) * int(p.size)
}

// Tensor lays out the red plane, then green, then blue.
func (p *Preprocessor) Tensor(img image.Image) []float32 {
	resized := resize.Resize(p.size, p.size, img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			data[i] = (float32(r)/65535.0 - p.mean[0]) / p.std[0]
			data[plane+i] = (float32(g)/65535.0 - p.mean[1]) / p.std[1]
			data[2*plane+i] = (float32(b)/65535.0 - p.mean[2]) / p.std[2]
		}
	}

	return data
}
