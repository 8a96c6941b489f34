package scanner

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"math"
	"os"

	"codeberg.org/go-pdf/fpdf"

	"github.com/mzyy94/ledmscan/internal/imaging"
)

const mmPerInch = 25.4

var errNoPages = errors.New("pdf: no pages")

// WritePDF wraps the JPEG page at jpegPath into a single-page PDF. The page
// size follows the density stored in the JPEG, falling back to dpi.
func WritePDF(jpegPath string, dpi int, outputPath string) error {
	page, err := os.ReadFile(jpegPath)
	if err != nil {
		return err
	}
	return imaging.WriteFileAtomic(outputPath, func(w io.Writer) error {
		return renderPDF(w, [][]byte{page}, dpi)
	})
}

// GeneratePDF renders JPEG pages into an in-memory PDF, one page each.
func GeneratePDF(pages [][]byte, dpi int) ([]byte, error) {
	var buf bytes.Buffer
	if err := renderPDF(&buf, pages, dpi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pdfPage is a JPEG placed on a page of its physical size.
type pdfPage struct {
	jpeg          []byte
	width, height float64 // mm
}

func layoutPage(data []byte, fallbackDPI int) (pdfPage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return pdfPage{}, err
	}
	if format != "jpeg" {
		return pdfPage{}, fmt.Errorf("unsupported page format %q", format)
	}
	dpi := fallbackDPI
	if d := detectJPEGDPI(data); d > 0 {
		dpi = d
	}
	if dpi <= 0 {
		dpi = esclDefaultDPI
	}
	scale := mmPerInch / float64(dpi)
	return pdfPage{
		jpeg:   data,
		width:  float64(cfg.Width) * scale,
		height: float64(cfg.Height) * scale,
	}, nil
}

func renderPDF(w io.Writer, pages [][]byte, dpi int) error {
	if len(pages) == 0 {
		return errNoPages
	}
	doc := fpdf.New("P", "mm", "", "")
	doc.SetAutoPageBreak(false, 0)
	for n, data := range pages {
		page, err := layoutPage(data, dpi)
		if err != nil {
			return fmt.Errorf("pdf page %d: %w", n+1, err)
		}
		doc.AddPageFormat("P", fpdf.SizeType{Wd: page.width, Ht: page.height})
		name := fmt.Sprintf("scan-%d", n+1)
		opts := fpdf.ImageOptions{ImageType: "JPEG"}
		doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(page.jpeg))
		doc.ImageOptions(name, 0, 0, page.width, page.height, false, opts, 0, "")
	}
	if err := doc.Output(w); err != nil {
		return fmt.Errorf("pdf output: %w", err)
	}
	return nil
}

// detectJPEGDPI returns the horizontal density from the JFIF header, or 0
// when the file carries none.
func detectJPEGDPI(data []byte) int {
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		return 0
	}
	rest := data[2:]
	for len(rest) >= 4 && rest[0] == 0xFF {
		marker := rest[1]
		size := int(binary.BigEndian.Uint16(rest[2:4]))
		if marker == 0xDA || size < 2 || len(rest) < 2+size {
			return 0 // start of scan or truncated
		}
		body := rest[4 : 2+size]
		if marker == 0xE0 && len(body) >= 12 && bytes.HasPrefix(body, []byte("JFIF\x00")) {
			density := float64(binary.BigEndian.Uint16(body[8:10]))
			switch body[7] {
			case 1: // per inch
				return int(density)
			case 2: // per cm
				return int(math.Round(density * 2.54))
			}
			return 0
		}
		rest = rest[2+size:]
	}
	return 0
}
