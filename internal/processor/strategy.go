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

package processor

import "fmt"

// Strategy selects how a batch is spread across workers.
type Strategy int

const (
	// StrategyAuto picks a strategy from batch size and available memory.
	StrategyAuto Strategy = iota
	// StrategyAsync runs one goroutine per item behind a semaphore.
	StrategyAsync
	// StrategyCPUIntensive runs a fixed worker pool over the item list.
	StrategyCPUIntensive
	// StrategyHybrid processes bounded chunks sequentially with a pause
	// between chunks so memory can settle.
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyAsync:
		return "async"
	case StrategyCPUIntensive:
		return "cpu"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a flag value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "auto", "":
		return StrategyAuto, nil
	case "async":
		return StrategyAsync, nil
	case "cpu":
		return StrategyCPUIntensive, nil
	case "hybrid":
		return StrategyHybrid, nil
	default:
		return StrategyAuto, fmt.Errorf("unknown strategy %q", s)
	}
}

const (
	smallBatchLimit = 10
	largeBatchLimit = 100
	lowMemoryFloor  = 2 * 1024 * 1024 * 1024
)

// ChooseAuto picks a strategy for a batch. Small batches always go async;
// low available memory forces the chunked hybrid path regardless of size;
// large batches with room to spare saturate the CPUs.
func ChooseAuto(fileCount int, availableMemory int64) Strategy {
	switch {
	case fileCount < smallBatchLimit:
		return StrategyAsync
	case availableMemory < lowMemoryFloor:
		return StrategyHybrid
	case fileCount > largeBatchLimit:
		return StrategyCPUIntensive
	default:
		return StrategyHybrid
	}
}
