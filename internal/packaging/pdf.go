package packaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/webp"
)

// writePDF renders one page per image, each page sized to its image.
func writePDF(images []string, w io.Writer) error {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	for i, path := range images {
		data, imageType, cfg, err := loadImage(path)
		if err != nil {
			return err
		}

		name := strconv.Itoa(i)
		opts := fpdf.ImageOptions{ImageType: imageType}
		width, height := float64(cfg.Width), float64(cfg.Height)

		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: width, Ht: height})
		pdf.ImageOptions(name, 0, 0, width, height, false, opts, 0, "")

		if err := pdf.Error(); err != nil {
			return imageError(path, err)
		}
	}

	return pdf.Output(w)
}

// loadImage returns image bytes fpdf can embed. WebP has no PDF filter, so it
// is re-encoded as PNG.
func loadImage(path string) ([]byte, string, image.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", image.Config{}, imageError(path, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", image.Config{}, imageError(path, err)
	}

	switch format {
	case "jpeg":
		return data, "JPG", cfg, nil
	case "png":
		return data, "PNG", cfg, nil
	case "webp":
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", image.Config{}, imageError(path, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", image.Config{}, imageError(path, err)
		}

		return buf.Bytes(), "PNG", cfg, nil
	default:
		return nil, "", image.Config{}, imageError(path, fmt.Errorf("unsupported image format %q", format))
	}
}
