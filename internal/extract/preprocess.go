package extract

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/disintegration/imaging"
)

// preprocessImage improves OCR recognition on photographed or scanned
// documents: grayscale, contrast normalization, then a mild sharpen.
// Callers treat a failure here as non-fatal and OCR the original bytes.
func preprocessImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}
