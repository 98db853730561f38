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
	"fmt"
	"os"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// sizeCacheTTL bounds how long a stat result is trusted. Inputs are not
// expected to change mid-batch; the TTL guards against long-lived processes.
const sizeCacheTTL = time.Minute

// FileSizer estimates input sizes from filesystem metadata, caching results.
type FileSizer struct {
	cache *ttlcache.Cache[string, int64]
}

// NewFileSizer creates a sizer with a TTL-bounded stat cache.
func NewFileSizer() *FileSizer {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, int64](sizeCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, int64](),
	)
	go cache.Start()
	return &FileSizer{cache: cache}
}

// EstimateSize implements Sizer.
func (s *FileSizer) EstimateSize(path string) (int64, error) {
	if item := s.cache.Get(path); item != nil {
		return item.Value(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	s.cache.Set(path, size, ttlcache.DefaultTTL)
	return size, nil
}

// Stop halts the cache's expiration goroutine.
func (s *FileSizer) Stop() {
	s.cache.Stop()
}
