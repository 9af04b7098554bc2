package core

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

// QRGenerator renders the pairing string from OnReadyForPhoneAuthentication
// into an image the phone's camera can scan.
type QRGenerator struct {
	size int
}

// NewQRGenerator returns a generator rendering at 256x256.
func NewQRGenerator() *QRGenerator {
	return &QRGenerator{size: 256}
}

// SetSize changes the rendered pixel dimensions for subsequent calls.
// Sizes below the QR's own module count are clamped up to it, since a
// module can't render smaller than one pixel.
func (g *QRGenerator) SetSize(size int) {
	if size > 0 {
		g.size = size
	}
}

func (g *QRGenerator) encode(data string) (*qrcode.QRCode, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	return qr, nil
}

// GeneratePNG renders data as PNG-encoded image bytes.
func (g *QRGenerator) GeneratePNG(data string) ([]byte, error) {
	qr, err := g.encode(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(g.size)); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateBase64 renders data as a PNG wrapped in a data: URI.
func (g *QRGenerator) GenerateBase64(data string) (string, error) {
	pngBytes, err := g.GeneratePNG(data)
	if err != nil {
		return "", err
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes), nil
}

// GenerateSVG renders data as a standalone SVG document, walking the
// QR's module bitmap directly rather than rasterizing it first.
func (g *QRGenerator) GenerateSVG(data string) (string, error) {
	qr, err := g.encode(data)
	if err != nil {
		return "", err
	}

	bitmap := qr.Bitmap()
	size := len(bitmap)
	if size == 0 {
		return "", fmt.Errorf("QR bitmap has no modules")
	}
	moduleSize := g.size / size
	if moduleSize < 1 {
		moduleSize = 1
	}

	var svg bytes.Buffer
	svg.WriteString(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`, g.size, g.size, g.size, g.size))
	svg.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)

	for y, row := range bitmap {
		for x, cell := range row {
			if cell {
				svg.WriteString(fmt.Sprintf(`<rect x="%d" y="%d" width="%d" height="%d" fill="#000000"/>`,
					x*moduleSize, y*moduleSize, moduleSize, moduleSize))
			}
		}
	}

	svg.WriteString(`</svg>`)
	return svg.String(), nil
}

// GenerateWhatsAppQR builds the "2@ref,publicKey,clientId" pairing
// string a phone's camera scans to authorize a fresh session.
func GenerateWhatsAppQR(ref, publicKey, clientID string) string {
	return fmt.Sprintf("2@%s,%s,%s", ref, publicKey, clientID)
}
