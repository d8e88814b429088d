package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

const DefaultJPEGQuality = 90

// Encode writes img in the given format, "" means png.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var b bytes.Buffer
	switch format {
	case "", "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&b, img); err != nil {
			return nil, err
		}
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(&b, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown image format %q", format)
	}
	return b.Bytes(), nil
}

// Decode reads a png or jpeg tile.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
