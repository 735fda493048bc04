package upload

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
)

func init() {
	// Register Nikon and Canon maker notes
	exif.RegisterParsers(mknote.All...)
}

// MaxPhotoDimension is the longest side a stored photo may have.
const MaxPhotoDimension = 2048

// NormalizePhoto decodes an uploaded photo, applies the EXIF orientation so
// the stored pixels match what the user saw, downsizes anything larger than
// MaxPhotoDimension and re-encodes it. PNG input stays PNG (alpha survives),
// everything else becomes JPEG. Returns the encoded bytes and the extension
// (".png" or ".jpg") for the object key.
func NormalizePhoto(data []byte) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	img = applyOrientation(img, readOrientation(data))

	bounds := img.Bounds()
	if bounds.Dx() > MaxPhotoDimension || bounds.Dy() > MaxPhotoDimension {
		if bounds.Dx() >= bounds.Dy() {
			img = imaging.Resize(img, MaxPhotoDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, MaxPhotoDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), ".png", nil
	}

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), ".jpg", nil
}

// readOrientation returns the EXIF orientation tag, or 1 when absent.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// Many images carry no EXIF data, not an error
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return orientation
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
