package gpu

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	initErr   error
	count     int
	countErr  error
	deviceErr error
	shutdowns int
}

func (f *fakeController) Initialize() error { return f.initErr }

func (f *fakeController) Shutdown() error {
	f.shutdowns++
	return nil
}

func (f *fakeController) GetDeviceCount() (int, error) { return f.count, f.countErr }

func (f *fakeController) GetDevice(int) (nvml.Device, error) { return nil, f.deviceErr }

func TestNewMonitorInitFailure(t *testing.T) {
	ctl := &fakeController{initErr: errors.New().New(ErrInitFailed)}

	_, err := newMonitor(ctl)
	require.Error(t, err)
	assert.Equal(t, ErrInitFailed, errors.CodeOf(err))
	assert.Zero(t, ctl.shutdowns)
}

func TestNewMonitorNoDevices(t *testing.T) {
	ctl := &fakeController{}

	_, err := newMonitor(ctl)
	require.Error(t, err)
	assert.Equal(t, ErrDeviceNotFound, errors.CodeOf(err))
	assert.Equal(t, 1, ctl.shutdowns)
}

func TestNewMonitorUnreadableDevices(t *testing.T) {
	ctl := &fakeController{count: 2, deviceErr: fmt.Errorf("gone")}

	_, err := newMonitor(ctl)
	require.Error(t, err)
	assert.Equal(t, ErrDeviceInfoFailed, errors.CodeOf(err))
	assert.Equal(t, 1, ctl.shutdowns)
}

func TestMilliWatts(t *testing.T) {
	assert.InDelta(t, 215.5, milliWatts(215500), 1e-9)
	assert.Zero(t, milliWatts(0))
}

func TestNVMLErrorSuccessIsNil(t *testing.T) {
	assert.NoError(t, newNVMLError(nvml.SUCCESS))
	assert.True(t, IsNVMLSuccess(nvml.SUCCESS))
	assert.False(t, IsNVMLSuccess(nvml.ERROR_NOT_SUPPORTED))
}
