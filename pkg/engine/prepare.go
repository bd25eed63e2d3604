package engine

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

func normalizeRotation(deg int) (int, error) {
	d := ((deg % 360) + 360) % 360
	if d%90 != 0 {
		return 0, fmt.Errorf("engine: rotation %d is not a multiple of 90", deg)
	}
	return d, nil
}

// Rotate applies a clockwise correction of deg degrees. imaging rotates
// counter-clockwise, so 90 clockwise is Rotate270.
func Rotate(img image.Image, deg int) (image.Image, error) {
	d, err := normalizeRotation(deg)
	if err != nil {
		return nil, err
	}
	switch d {
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return img, nil
	}
}

// Resize scales img to a size x size square.
func Resize(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	return imaging.Resize(img, size, size, imaging.Linear)
}

// Prepare rotates, resizes and converts img into a CHW float32 buffer of
// length 3*size*size with values in [0,1].
func Prepare(img image.Image, size, rotation int) ([]float32, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	rotated, err := Rotate(img, rotation)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, 3*size*size)
	FillCHW(buf, Resize(rotated, size), size)
	return buf, nil
}

// FillCHW writes a size x size image into buf as planar R, G, B.
func FillCHW(buf []float32, img image.Image, size int) {
	b := img.Bounds()
	plane := size * size
	for y := 0; y < size; y++ {
		row := y * size
		for x := 0; x < size; x++ {
			i := row + x
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			buf[i] = float32(r>>8) / 255.0
			buf[plane+i] = float32(g>>8) / 255.0
			buf[2*plane+i] = float32(bl>>8) / 255.0
		}
	}
}
