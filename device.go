package upscale

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// DeviceHandle provides GPU device access from the host application.
//
// This is the integration point between the upscale engine and GPU
// frameworks like gogpu. The host application implements DeviceHandle and
// passes it via [WithDevice], allowing the engine's inference backend to
// use the shared GPU device.
//
// Key principle: upscale RECEIVES the device from the host, it does NOT
// create one. This keeps GPU resources shared between the reader
// application and the enhancement engine, with the compute context as the
// single serialization point.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, providing an
// upscale-specific name for the interface while maintaining full
// compatibility with the gpucontext ecosystem.
type DeviceHandle = gpucontext.DeviceProvider

// NullDeviceHandle is a DeviceHandle that provides nil implementations.
// Used for CPU-only operation where no GPU is available; the backend
// registry falls back to the software network in that case.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// AdapterInfo returns a zero adapter description for the null device.
func (NullDeviceHandle) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{}
}

// SurfaceFormat returns undefined format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// Ensure NullDeviceHandle implements DeviceHandle.
var _ DeviceHandle = NullDeviceHandle{}
