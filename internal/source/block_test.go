package source

import (
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/heartbeat/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestBlockIndexLookup(t *testing.T) {
	now := time.Unix(1000, 0)
	loads := 0

	b := &blockIndex{
		now: func() time.Time { return now },
		log: logger.Component("test"),
		load: func() (map[string]blockDevice, error) {
			loads++
			return map[string]blockDevice{
				"sda":  {kind: "SSD"},
				"sda1": {kind: "SSD"},
				"sdb1": {kind: "HDD", removable: true},
			}, nil
		},
	}

	assert.Equal(t, blockDevice{kind: "SSD"}, b.lookup("/dev/sda1"))
	assert.Equal(t, blockDevice{kind: "HDD", removable: true}, b.lookup("/dev/sdb1"))
	assert.Equal(t, 1, loads)

	// Misses inside the reload period do not hit the inventory again.
	assert.Equal(t, blockDevice{kind: unknownKind}, b.lookup("/dev/mapper/root"))
	assert.Equal(t, 1, loads)

	now = now.Add(blockReloadPeriod)
	assert.Equal(t, blockDevice{kind: unknownKind}, b.lookup("/dev/mapper/root"))
	assert.Equal(t, 2, loads)
}

func TestBlockIndexLoadError(t *testing.T) {
	b := &blockIndex{
		now:  time.Now,
		log:  logger.Component("test"),
		load: func() (map[string]blockDevice, error) { return nil, fmt.Errorf("no sysfs") },
	}

	assert.Equal(t, blockDevice{kind: unknownKind}, b.lookup("/dev/sda1"))
	assert.NotNil(t, b.devices)
}
