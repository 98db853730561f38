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
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/batchrunner/internal/bufpool"
	"github.com/cardinalhq/batchrunner/internal/memmon"
)

func writeTestPNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default ok", DefaultConfig(), false},
		{"zero factor", Config{Mode: ModeScale, Factor: 0, Quality: 85}, true},
		{"fit ok", Config{Mode: ModeFit, Width: 300, Height: 300, Quality: 85}, false},
		{"fit missing height", Config{Mode: ModeFit, Width: 300, Quality: 85}, true},
		{"bad quality", Config{Mode: ModeScale, Factor: 0.5, Quality: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTargetDimensions(t *testing.T) {
	mk := func(cfg Config) *ImageTransformer {
		cfg.Quality = 85
		tr, err := NewImageTransformer(cfg, nil, nil)
		require.NoError(t, err)
		return tr
	}

	w, h := mk(Config{Mode: ModeScale, Factor: 0.5}).targetDimensions(100, 80)
	assert.Equal(t, 50, w)
	assert.Equal(t, 40, h)

	w, h = mk(Config{Mode: ModeWidth, Width: 200}).targetDimensions(100, 80)
	assert.Equal(t, 200, w)
	assert.Equal(t, 160, h)

	w, h = mk(Config{Mode: ModeHeight, Height: 40}).targetDimensions(100, 80)
	assert.Equal(t, 50, w)
	assert.Equal(t, 40, h)

	// Wide image fits to width, tall image fits to height.
	w, h = mk(Config{Mode: ModeFit, Width: 50, Height: 50}).targetDimensions(200, 100)
	assert.Equal(t, 50, w)
	assert.Equal(t, 25, h)

	w, h = mk(Config{Mode: ModeFit, Width: 50, Height: 50}).targetDimensions(100, 200)
	assert.Equal(t, 25, w)
	assert.Equal(t, 50, h)

	// Tiny factors never collapse below one pixel.
	w, h = mk(Config{Mode: ModeScale, Factor: 0.001}).targetDimensions(100, 80)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestTransformScalesImage(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	path := writeTestPNG(t, dir, "in.png", 100, 80)

	pool := bufpool.New()
	monitor := memmon.New(256 * 1024 * 1024)

	tr, err := NewImageTransformer(Config{
		Mode:      ModeScale,
		Factor:    0.5,
		Quality:   85,
		OutputDir: outDir,
	}, pool, monitor)
	require.NoError(t, err)

	res, err := tr.Transform(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, res.InputPath)
	assert.Equal(t, int64(100*80), res.Units)
	assert.Greater(t, res.InputBytes, int64(0))
	assert.Greater(t, res.OutputBytes, int64(0))

	f, err := os.Open(res.OutputPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	// Tracked footprint fully released.
	assert.Equal(t, int64(0), monitor.CurrentUsage())
}

func TestTransformFormatConversion(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPNG(t, dir, "in.png", 20, 20)

	tr, err := NewImageTransformer(Config{
		Mode:      ModeScale,
		Factor:    1.0,
		Quality:   85,
		OutputDir: dir,
		Format:    "jpg",
	}, nil, nil)
	require.NoError(t, err)

	res, err := tr.Transform(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(res.OutputPath))
}

func TestTransformMissingFile(t *testing.T) {
	tr, err := NewImageTransformer(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), "/nonexistent/file.png")
	require.Error(t, err)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/nonexistent/file.png", te.Path)
}

func TestTransformGarbageInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	tr, err := NewImageTransformer(DefaultConfig(), bufpool.New(), nil)
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), path)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, path, te.Path)
}

func TestFileSizer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1234), 0o644))

	s := NewFileSizer()
	defer s.Stop()

	size, err := s.EstimateSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)

	// Cached: survives deletion of the backing file within the TTL.
	require.NoError(t, os.Remove(path))
	size, err = s.EstimateSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)

	_, err = s.EstimateSize(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}
