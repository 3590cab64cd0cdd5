// Package scene models the training dataset consumed by the trainer: one
// View plus pixel buffer per training image, and the bounding volumes the
// field is trained and rendered inside. On-disk format parsing belongs to
// an external loader; this package only defines the in-memory contract.
package scene

import (
	"errors"
	"fmt"

	"github.com/yenchenlin/orthographic-ngp/types"
)

var (
	ErrNoImages = errors.New("scene: dataset contains no training images")
)

// TrainingImage couples a camera view with its ground-truth pixels.
// Pixels are linear-space RGBA in row-major order. Sharpness optionally
// carries a per-pixel sharpness hint at the same resolution, used to weight
// error map accumulation; it may be nil.
type TrainingImage struct {
	View      View
	W, H      int
	Pixels    []types.Vec4
	Sharpness []float32
}

// At returns the pixel at integer coordinates, clamped to the image.
func (im *TrainingImage) At(x, y int) types.Vec4 {
	if x < 0 {
		x = 0
	} else if x >= im.W {
		x = im.W - 1
	}
	if y < 0 {
		y = 0
	} else if y >= im.H {
		y = im.H - 1
	}
	return im.Pixels[y*im.W+x]
}

// SharpnessAt returns the sharpness hint at the pixel, defaulting to 1.
func (im *TrainingImage) SharpnessAt(x, y int) float32 {
	if im.Sharpness == nil {
		return 1
	}
	return im.Sharpness[y*im.W+x]
}

// Dataset is the in-memory training set: images with their poses, the AABB
// the field is trained inside, and the tighter render AABB.
type Dataset struct {
	Images    []*TrainingImage
	AABB      types.Box
	RenderBox types.Box
}

// Validate the dataset before training starts. Malformed inputs indicate
// caller misuse and fail fast.
func (d *Dataset) Validate() error {
	if len(d.Images) == 0 {
		return ErrNoImages
	}
	if err := d.AABB.Validate(); err != nil {
		return err
	}
	if err := d.RenderBox.Validate(); err != nil {
		return err
	}
	for i, im := range d.Images {
		if im.W <= 0 || im.H <= 0 {
			return fmt.Errorf("scene: image %d has degenerate resolution %dx%d", i, im.W, im.H)
		}
		if len(im.Pixels) != im.W*im.H {
			return fmt.Errorf("scene: image %d pixel buffer holds %d entries, want %d", i, len(im.Pixels), im.W*im.H)
		}
		if im.Sharpness != nil && len(im.Sharpness) != im.W*im.H {
			return fmt.Errorf("scene: image %d sharpness buffer holds %d entries, want %d", i, len(im.Sharpness), im.W*im.H)
		}
	}
	return nil
}

// TotalPixels returns the number of candidate training rays.
func (d *Dataset) TotalPixels() int {
	var n int
	for _, im := range d.Images {
		n += im.W * im.H
	}
	return n
}
