// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/cardinalhq/batchrunner/internal/bufpool"
	"github.com/cardinalhq/batchrunner/internal/memmon"
)

// bytesPerPixel is the decoded RGBA footprint per pixel.
const bytesPerPixel = 4

// ImageTransformer decodes, resizes, and re-encodes image files. It draws
// read buffers from a shared pool and accounts decoded footprints against
// the memory monitor.
type ImageTransformer struct {
	cfg     Config
	pool    *bufpool.Pool
	monitor *memmon.Monitor
}

// NewImageTransformer creates a transformer. pool and monitor may be nil,
// in which case buffers are plain allocations and footprints untracked.
func NewImageTransformer(cfg Config, pool *bufpool.Pool, monitor *memmon.Monitor) (*ImageTransformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ImageTransformer{cfg: cfg, pool: pool, monitor: monitor}, nil
}

// Transform implements Transformer. Once started, the work runs to
// completion; ctx is only consulted before the expensive phases.
func (t *ImageTransformer) Transform(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	raw, inputBytes, release, err := t.readInput(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer release()

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	units := int64(srcW) * int64(srcH)

	dstW, dstH := t.targetDimensions(srcW, srcH)

	// Account the decoded source plus destination footprint for the duration
	// of the resize. The budget is advisory at this layer; admission control
	// happens before dispatch.
	footprint := (units + int64(dstW)*int64(dstH)) * bytesPerPixel
	if t.monitor != nil {
		if tracker, ok := t.monitor.Track(footprint); ok {
			defer tracker.Release()
		} else {
			slog.Debug("Transform footprint over budget, proceeding untracked",
				slog.String("path", path),
				slog.Int64("footprint_bytes", footprint))
		}
	}

	var dst image.Image = src
	if dstW != srcW || dstH != srcH {
		rgba := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		t.scaler().Scale(rgba, rgba.Bounds(), src, bounds, xdraw.Over, nil)
		dst = rgba
	}

	outPath := t.outputPath(path, format)
	outputBytes, err := t.writeOutput(outPath, dst, format)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	return &Result{
		InputPath:   path,
		OutputPath:  outPath,
		InputBytes:  inputBytes,
		OutputBytes: outputBytes,
		Units:       units,
		Duration:    time.Since(start),
	}, nil
}

// readInput loads the whole file, through the buffer pool when available.
// The returned release func must be called when the bytes are no longer used.
func (t *ImageTransformer) readInput(path string) ([]byte, int64, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("stat: %w", err)
	}
	size := info.Size()

	if t.pool == nil {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("read: %w", err)
		}
		return data, int64(len(data)), func() {}, nil
	}

	buf := t.pool.Acquire(int(size))
	if _, err := io.ReadFull(f, buf.Bytes()); err != nil {
		buf.Release()
		return nil, 0, nil, fmt.Errorf("read: %w", err)
	}
	return buf.Bytes(), size, buf.Release, nil
}

func (t *ImageTransformer) targetDimensions(srcW, srcH int) (int, int) {
	switch t.cfg.Mode {
	case ModeScale:
		w := int(math.Round(float64(srcW) * t.cfg.Factor))
		h := int(math.Round(float64(srcH) * t.cfg.Factor))
		return max(w, 1), max(h, 1)
	case ModeWidth:
		h := int(math.Round(float64(t.cfg.Width) * float64(srcH) / float64(srcW)))
		return t.cfg.Width, max(h, 1)
	case ModeHeight:
		w := int(math.Round(float64(t.cfg.Height) * float64(srcW) / float64(srcH)))
		return max(w, 1), t.cfg.Height
	case ModeFit:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(t.cfg.Width) / float64(t.cfg.Height)
		if srcAspect > dstAspect {
			h := int(math.Round(float64(t.cfg.Width) / srcAspect))
			return t.cfg.Width, max(h, 1)
		}
		w := int(math.Round(float64(t.cfg.Height) * srcAspect))
		return max(w, 1), t.cfg.Height
	default:
		return srcW, srcH
	}
}

// scaler picks the resize kernel: CatmullRom for high quality targets,
// ApproxBiLinear otherwise.
func (t *ImageTransformer) scaler() xdraw.Scaler {
	if t.cfg.Quality >= 90 {
		return xdraw.CatmullRom
	}
	return xdraw.ApproxBiLinear
}

func (t *ImageTransformer) outputPath(inputPath, decodedFormat string) string {
	base := filepath.Base(inputPath)
	dir := t.cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
		base = "resized_" + base
	}

	if t.cfg.Format != "" {
		ext := filepath.Ext(base)
		base = strings.TrimSuffix(base, ext) + "." + t.cfg.Format
	} else if filepath.Ext(base) == "" {
		base += "." + extensionFor(decodedFormat)
	}
	return filepath.Join(dir, base)
}

func (t *ImageTransformer) writeOutput(path string, img image.Image, decodedFormat string) (int64, error) {
	format := t.cfg.Format
	if format == "" {
		format = decodedFormat
	}

	var buf bytes.Buffer
	var err error
	switch normalizeFormat(format) {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: t.cfg.Quality})
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		return 0, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", format, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}
	return int64(buf.Len()), nil
}

func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "gif":
		return "gif"
	default:
		return strings.ToLower(format)
	}
}

func extensionFor(format string) string {
	if normalizeFormat(format) == "jpeg" {
		return "jpg"
	}
	return normalizeFormat(format)
}
