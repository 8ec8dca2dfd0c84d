package builtin

import (
	"fmt"
	"strconv"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/cmd"
)

// consoleOnly is embedded in commands that only the console may run.
type consoleOnly struct{}

// Allow ...
func (consoleOnly) Allow(src cmd.Source) bool {
	_, ok := src.(interface{ Console() bool })
	return ok
}

// parsePos parses three integer block coordinates.
func parsePos(args []string) (cube.Pos, error) {
	if len(args) < 3 {
		return cube.Pos{}, fmt.Errorf("expected x y z, got %d coordinates", len(args))
	}
	var pos cube.Pos
	for i := range 3 {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return cube.Pos{}, fmt.Errorf("invalid coordinate %q", args[i])
		}
		pos[i] = v
	}
	return pos, nil
}

func bytesToMiB(v uint64) float64 {
	return float64(v) / (1024 * 1024)
}
