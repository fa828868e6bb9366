// Package qr renders visitor codes as PNG QR images and reads codes back
// from uploaded images.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	goqrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var (
	ErrNoCode       = errors.New("qr: no code found in image")
	ErrInvalidImage = errors.New("qr: unreadable image")
)

// Codec encodes and decodes QR payloads.  The zero value uses DefaultSize.
type Codec struct {
	Size int
}

// Encode returns a PNG of text.
func (c Codec) Encode(text string) ([]byte, error) {
	size := c.Size
	if size <= 0 {
		size = DefaultSize
	}
	png, err := goqrcode.Encode(text, goqrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}

// Decode extracts the payload of the first QR code in a PNG or JPEG image.
func (c Codec) Decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return res.GetText(), nil
}
