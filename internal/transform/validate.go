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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var magicNumbers = map[string][]byte{
	"jpeg": {0xFF, 0xD8, 0xFF},
	"png":  {0x89, 0x50, 0x4E, 0x47},
	"gif":  []byte("GIF8"),
}

// SupportedExtension reports whether the file extension names a format the
// transformer can decode.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	default:
		return false
	}
}

// ValidateFile checks that path has a supported extension and that its
// leading bytes match a known image signature, so obviously broken inputs
// are rejected before any decode work is spent on them.
func ValidateFile(path string) error {
	if !SupportedExtension(path) {
		return &Error{Path: path, Err: fmt.Errorf("unsupported extension %q", filepath.Ext(path))}
	}

	f, err := os.Open(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 8)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return &Error{Path: path, Err: fmt.Errorf("read header: %w", err)}
	}
	header = header[:n]

	for _, magic := range magicNumbers {
		if bytes.HasPrefix(header, magic) {
			return nil
		}
	}
	return &Error{Path: path, Err: fmt.Errorf("not a recognized image file")}
}
