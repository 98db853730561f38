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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedExtension(t *testing.T) {
	assert.True(t, SupportedExtension("photo.jpg"))
	assert.True(t, SupportedExtension("PHOTO.JPEG"))
	assert.True(t, SupportedExtension("img.png"))
	assert.True(t, SupportedExtension("anim.gif"))
	assert.False(t, SupportedExtension("doc.pdf"))
	assert.False(t, SupportedExtension("noext"))
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()

	pngPath := writeTestPNG(t, dir, "real.png", 4, 4)
	assert.NoError(t, ValidateFile(pngPath))

	fakePath := filepath.Join(dir, "fake.png")
	require.NoError(t, os.WriteFile(fakePath, []byte("this is not an image"), 0o644))
	err := ValidateFile(fakePath)
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, fakePath, terr.Path)

	err = ValidateFile(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)

	err = ValidateFile(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
}

func TestValidateFileTruncated(t *testing.T) {
	dir := t.TempDir()

	// A file shorter than the probe window but starting with a valid
	// signature still passes.
	shortPath := filepath.Join(dir, "short.gif")
	require.NoError(t, os.WriteFile(shortPath, []byte("GIF8"), 0o644))
	assert.NoError(t, ValidateFile(shortPath))
}
