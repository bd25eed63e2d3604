package inference

import (
	"bytes"
	"encoding/base64"
	"image"

	"github.com/disintegration/imaging"
)

// JPEGQuality is the encoder quality used for uploaded frames.
const JPEGQuality = 85

// EncodeImageBase64 encodes img as a base64 JPEG.
func EncodeImageBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// requestImage returns the base64 JPEG payload of a request. Pre-encoded
// bytes win over the image.
func requestImage(req *VisionRequest) (string, error) {
	switch {
	case len(req.JPEG) > 0:
		return base64.StdEncoding.EncodeToString(req.JPEG), nil
	case req.Image != nil:
		return EncodeImageBase64(req.Image)
	}
	return "", ErrNoImage
}
