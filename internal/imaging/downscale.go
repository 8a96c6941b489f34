// Package imaging post-processes scanned pages: downscaling to a bounded
// size, JPEG recompression and an optional perceptual re-encode pass.
package imaging

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// ThumbnailSuffix is inserted before the extension of the default output path.
const ThumbnailSuffix = "_thumbnail"

// Quality bounds for JPEG re-encoding.
const (
	MinQuality = 1
	MaxQuality = 95
)

// DefaultOutputPath returns input with ThumbnailSuffix inserted before the
// extension. Non-JPEG extensions are replaced with .jpg since the output is
// always JPEG.
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(input, ext)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
	default:
		ext = ".jpg"
	}
	return stem + ThumbnailSuffix + ext
}

// FitWithin returns the size of a w×h image shrunk so neither side exceeds
// limit, preserving aspect ratio. Images already within bounds are unchanged.
func FitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	scale := float64(limit) / float64(w)
	if h > w {
		scale = float64(limit) / float64(h)
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return min(max(nw, 1), limit), min(max(nh, 1), limit)
}

// Downscale loads input, shrinks it to fit within maxDim and writes it as a
// JPEG at the given quality. An empty output uses DefaultOutputPath. It
// returns the written path and the scaled image.
func Downscale(input string, maxDim, quality int, output string) (string, image.Image, error) {
	if output == "" {
		output = DefaultOutputPath(input)
	}
	quality = clampQuality(quality)

	src, err := decodeFile(input)
	if err != nil {
		return "", nil, err
	}

	b := src.Bounds()
	nw, nh := FitWithin(b.Dx(), b.Dy(), maxDim)
	dst := image.Image(src)
	if nw != b.Dx() || nh != b.Dy() {
		rgba := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), src, b, draw.Src, nil)
		dst = rgba
	}

	err = WriteFileAtomic(output, func(w io.Writer) error {
		return jpeg.Encode(w, dst, &jpeg.Options{Quality: quality})
	})
	if err != nil {
		return "", nil, fmt.Errorf("write %s: %w", output, err)
	}
	slog.Debug("downscaled image",
		"input", input,
		"output", output,
		"from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"to", fmt.Sprintf("%dx%d", nw, nh),
		"quality", quality,
	)
	return output, dst, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func clampQuality(q int) int {
	return min(max(q, MinQuality), MaxQuality)
}

// WriteFileAtomic writes to a temporary file next to path and renames it into
// place once fn succeeds. On failure the temporary file is removed and path
// is left untouched.
func WriteFileAtomic(path string, fn func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = fn(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
