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

// Package transform defines the per-item transformation collaborators the
// scheduling core depends on, plus the built-in image resizer.
package transform

import (
	"context"
	"fmt"
	"time"
)

// Transformer performs one idempotent, fallible, possibly-long-running
// transformation. Implementations are opaque to the scheduling core.
type Transformer interface {
	Transform(ctx context.Context, path string) (*Result, error)
}

// Sizer estimates the size in bytes of an input item.
type Sizer interface {
	EstimateSize(path string) (int64, error)
}

// Mode selects how target dimensions are derived.
type Mode int

const (
	// ModeScale multiplies both dimensions by Factor.
	ModeScale Mode = iota
	// ModeWidth resizes to Width, preserving aspect ratio.
	ModeWidth
	// ModeHeight resizes to Height, preserving aspect ratio.
	ModeHeight
	// ModeFit shrinks to fit within Width x Height, preserving aspect ratio.
	ModeFit
)

// Config describes one transformation policy.
type Config struct {
	Mode    Mode    `mapstructure:"mode"`
	Factor  float64 `mapstructure:"factor"`
	Width   int     `mapstructure:"width"`
	Height  int     `mapstructure:"height"`
	Quality int     `mapstructure:"quality"`
	// OutputDir is where transformed files are written.
	OutputDir string `mapstructure:"output_dir"`
	// Format forces an output format by extension ("jpg", "png");
	// empty keeps the input format.
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a half-size, quality-85 policy.
func DefaultConfig() Config {
	return Config{
		Mode:    ModeScale,
		Factor:  0.5,
		Quality: 85,
	}
}

// Validate rejects unusable configurations.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeScale:
		if c.Factor <= 0 {
			return fmt.Errorf("scale factor must be positive, got %g", c.Factor)
		}
	case ModeWidth:
		if c.Width <= 0 {
			return fmt.Errorf("width must be positive, got %d", c.Width)
		}
	case ModeHeight:
		if c.Height <= 0 {
			return fmt.Errorf("height must be positive, got %d", c.Height)
		}
	case ModeFit:
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("fit dimensions must be positive, got %dx%d", c.Width, c.Height)
		}
	default:
		return fmt.Errorf("unknown resize mode %d", c.Mode)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be in [1,100], got %d", c.Quality)
	}
	return nil
}

// Result is the outcome of one successful transformation.
type Result struct {
	InputPath   string
	OutputPath  string
	InputBytes  int64
	OutputBytes int64
	// Units counts processed work units; for images, source pixels.
	Units    int64
	Duration time.Duration
}

// Error wraps a per-item transformation failure with its input attribution.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
