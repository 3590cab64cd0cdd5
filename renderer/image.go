package renderer

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/yenchenlin/orthographic-ngp/types"
)

// ToImage tone-maps a linear RGBA framebuffer into an 8-bit sRGB image.
// Exposure is in stops: each unit doubles the scene brightness.
func ToImage(fb []types.Vec4, w, h int, exposure float32) *image.NRGBA {
	scale := float32(math.Pow(2, float64(exposure)))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := fb[y*w+x]
			img.SetNRGBA(x, y, color.NRGBA{
				R: toSRGB(px[0] * scale),
				G: toSRGB(px[1] * scale),
				B: toSRGB(px[2] * scale),
				A: 255,
			})
		}
	}
	return img
}

// WritePNG tone-maps and encodes the framebuffer.
func WritePNG(out io.Writer, fb []types.Vec4, w, h int, exposure float32) error {
	return png.Encode(out, ToImage(fb, w, h, exposure))
}

func toSRGB(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	var s float64
	if v <= 0.0031308 {
		s = 12.92 * float64(v)
	} else {
		s = 1.055*math.Pow(float64(v), 1/2.4) - 0.055
	}
	return uint8(s*255 + 0.5)
}
