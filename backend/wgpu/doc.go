// Package wgpu provides the GPU inference backend using gogpu/wgpu.
//
// It uses the gogpu/wgpu Pure Go WebGPU implementation, which supports
// Vulkan, Metal, and DX12 backends depending on the platform. Tiles are
// dispatched through a WGSL compute pipeline compiled with gogpu/naga.
//
// The backend registers itself on import:
//
//	import _ "github.com/gogpu/upscale/backend/wgpu"
//
// After that the engine's backend selection prefers it automatically and
// falls back to the software backend when no usable adapter is found.
// Build with the nogpu tag to exclude the GPU code path entirely.
package wgpu
