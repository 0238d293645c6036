package ai

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const mimePNG = "image/png"

// normalizeMIMEType lowercases and trims a declared media type, defaulting to JPEG
func normalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}

// isHEIC checks for an ISO BMFF ftyp box with a HEIC/HEIF brand
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// toPNG renders a document as a single PNG image for providers that only
// accept images. PDFs are rendered from their first page.
func toPNG(doc Document) (Document, error) {
	mimeType := normalizeMIMEType(doc.MIMEType)
	if mimeType == mimePNG && !isHEIC(doc.Data) {
		return Document{Data: doc.Data, MIMEType: mimePNG}, nil
	}

	var (
		img image.Image
		err error
	)
	switch {
	case mimeType == "application/pdf":
		img, err = renderFirstPage(doc.Data)
	case isHEIC(doc.Data) || strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif"):
		img, err = heic.Decode(bytes.NewReader(doc.Data))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(doc.Data))
		if err != nil {
			err = fmt.Errorf("decoding %s image: %w", mimeType, err)
		}
	}
	if err != nil {
		return Document{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Document{}, fmt.Errorf("encoding PNG: %w", err)
	}
	return Document{Data: buf.Bytes(), MIMEType: mimePNG}, nil
}

func renderFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}
