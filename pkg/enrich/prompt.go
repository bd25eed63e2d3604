package enrich

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/stairguard/pkg/detection"
)

// DefaultImageSize bounds the uploaded frame on each side.
const DefaultImageSize = 512

// BuildPrompt writes the vision prompt for a detection summary. A nil
// summary asks the model to check an empty scene.
func BuildPrompt(s *detection.Summary) string {
	var b strings.Builder

	b.WriteString("You are assisting a blind or low-vision pedestrian. ")
	if s == nil {
		b.WriteString("The on-device detector found no stairs in this camera frame. ")
		b.WriteString("Check whether any stairs, steps or drop-offs are visible.\n")
	} else {
		fmt.Fprintf(&b, "The on-device detector reports %s at about %g meters (%s), confidence %.0f%%. ",
			categoryName(s.Category), s.DistanceMeters, s.Distance, s.Confidence*100)
		fmt.Fprintf(&b, "Estimated %s steps. ", s.StepCount)
		fmt.Fprintf(&b, "Handrail guess: %s.\n", s.Handrail)
	}

	b.WriteString("Please:\n")
	b.WriteString("1. Confirm the type of stairs or say if there are none.\n")
	b.WriteString("2. Describe their condition and the lighting.\n")
	b.WriteString("3. State which side the handrail is on, if any.\n")
	b.WriteString("4. List any safety concerns.\n")
	b.WriteString("5. Give brief navigation advice.\n")
	b.WriteString("Answer in plain spoken English, at most 4 sentences.")
	return b.String()
}

func categoryName(c detection.Category) string {
	switch c {
	case detection.Ascending:
		return "stairs going up"
	case detection.Descending:
		return "stairs going down"
	case detection.SideView:
		return "a staircase seen from the side"
	case detection.Spiral:
		return "a spiral staircase"
	default:
		return "stairs of unknown type"
	}
}

// Downsample fits img inside a size x size box, keeping aspect ratio.
// Smaller images are returned unchanged.
func Downsample(img image.Image, size int) image.Image {
	if img == nil {
		return nil
	}
	if size <= 0 {
		size = DefaultImageSize
	}
	b := img.Bounds()
	if b.Dx() <= size && b.Dy() <= size {
		return img
	}
	return imaging.Fit(img, size, size, imaging.Linear)
}
