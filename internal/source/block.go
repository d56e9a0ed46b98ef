package source

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"github.com/jaypipes/ghw"
)

const (
	unknownKind       = "Unknown"
	blockReloadPeriod = time.Minute
)

type blockDevice struct {
	kind      string
	removable bool
}

// blockIndex maps kernel device names (disks and their partitions) to the
// drive kind and removability ghw reports for the parent disk.
type blockIndex struct {
	devices  map[string]blockDevice
	loadedAt time.Time
	load     func() (map[string]blockDevice, error)
	now      func() time.Time
	log      logger.Logger
}

func newBlockIndex() *blockIndex {
	return &blockIndex{
		load: loadBlockDevices,
		now:  time.Now,
		log:  logger.Component("source"),
	}
}

func loadBlockDevices() (map[string]blockDevice, error) {
	info, err := ghw.Block()
	if err != nil {
		return nil, errors.New().Wrap(ErrBlockReadFailed, err)
	}

	devices := make(map[string]blockDevice)
	for _, d := range info.Disks {
		dev := blockDevice{kind: d.DriveType.String(), removable: d.IsRemovable}
		devices[d.Name] = dev
		for _, p := range d.Partitions {
			devices[p.Name] = dev
		}
	}

	return devices, nil
}

// lookup resolves a device path such as /dev/sda1. An unknown device
// triggers a reload, at most once per blockReloadPeriod, so hot-plugged
// disks are picked up.
func (b *blockIndex) lookup(device string) blockDevice {
	name := filepath.Base(device)

	if dev, ok := b.devices[name]; ok {
		return dev
	}

	if b.devices == nil || b.now().Sub(b.loadedAt) >= blockReloadPeriod {
		b.loadedAt = b.now()
		devices, err := b.load()
		if err != nil {
			b.log.Debug().Err(err).Msg("Block device inventory unavailable")
			devices = map[string]blockDevice{}
		}
		b.devices = devices

		if dev, ok := b.devices[name]; ok {
			return dev
		}
	}

	return blockDevice{kind: unknownKind}
}
