package upload

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestImage(t *testing.T, w, h int, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	default:
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func TestValidateImageBySniff(t *testing.T) {
	jpegData := encodeTestImage(t, 8, 8, "jpeg")
	pngData := encodeTestImage(t, 8, 8, "png")

	mime, err := ValidateImageBySniff("selfie.jpg", jpegData)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)

	mime, err = ValidateImageBySniff("selfie.png", pngData)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	_, err = ValidateImageBySniff("selfie.exe", jpegData)
	assert.Error(t, err)

	_, err = ValidateImageBySniff("selfie.png", []byte("<html><body>hi</body></html>"))
	assert.Error(t, err)

	_, err = ValidateImageBySniff("selfie.png", []byte(`<?xml version="1.0"?><svg></svg>`))
	assert.Error(t, err)
}

func TestNormalizePhoto_ResizesLargeImages(t *testing.T) {
	data := encodeTestImage(t, MaxPhotoDimension+500, 600, "jpeg")

	out, ext, err := NormalizePhoto(data)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", ext)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, MaxPhotoDimension, img.Bounds().Dx())
	assert.Less(t, img.Bounds().Dy(), 600)
}

func TestNormalizePhoto_KeepsSmallImagesAndPNGFormat(t *testing.T) {
	data := encodeTestImage(t, 100, 80, "png")

	out, ext, err := NormalizePhoto(data)
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestNormalizePhoto_RejectsGarbage(t *testing.T) {
	_, _, err := NormalizePhoto([]byte("definitely not an image"))
	assert.Error(t, err)
}
