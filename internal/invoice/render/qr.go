package render

import (
	"bytes"
	"errors"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const DefaultQRSize = 256

var ErrEmptyQRContent = errors.New("empty_qr_content")

// QRPNG encodes content as a square QR code PNG of size pixels.
func QRPNG(content string, size int) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyQRContent
	}
	if size <= 0 {
		size = DefaultQRSize
	}

	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
