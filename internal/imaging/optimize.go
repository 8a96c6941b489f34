package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrOptimizerMissing is returned when the re-encoder binary is not installed.
var ErrOptimizerMissing = errors.New("jpeg optimizer not installed")

const (
	defaultOptimizerBinary  = "guetzli"
	defaultOptimizerQuality = 90
	minOptimizerQuality     = 84 // guetzli refuses lower values
)

// Optimizer re-encodes a JPEG in place with a perceptual encoder. It is slow
// (on the order of a minute of CPU per megapixel) and must not run on an
// interactive path.
type Optimizer struct {
	Binary  string // defaults to guetzli
	Quality int    // defaults to 90

	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Available reports whether the optimizer binary can be found.
func (o Optimizer) Available() bool {
	_, err := o.resolve()
	return err == nil
}

func (o Optimizer) resolve() (string, error) {
	bin := o.Binary
	if bin == "" {
		bin = defaultOptimizerBinary
	}
	lookPath := o.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOptimizerMissing, bin)
	}
	return path, nil
}

// Optimize re-encodes the JPEG at path in place. The original file is kept
// if the encoder fails or ctx is cancelled.
func (o Optimizer) Optimize(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bin, err := o.resolve()
	if err != nil {
		return err
	}
	quality := o.Quality
	if quality == 0 {
		quality = defaultOptimizerQuality
	}
	quality = min(max(quality, minOptimizerQuality), 100)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.opt")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	command := o.command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(ctx, bin, "--quality", fmt.Sprint(quality), path, tmpPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard

	start := time.Now()
	slog.Info("optimizing jpeg", "path", path, "quality", quality)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, bytes.TrimSpace(stderr.Bytes()))
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s produced an empty file", filepath.Base(bin))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	slog.Info("jpeg optimized", "path", path, "bytes", info.Size(), "duration", time.Since(start).Round(time.Second))
	return nil
}
