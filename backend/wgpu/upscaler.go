//go:build !nogpu

package wgpu

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/upscale/backend"
)

//go:embed shaders/upscale.wgsl
var upscaleShaderWGSL string

// GPUConfig is the GPU-compatible layout of the dispatch parameters.
// Must match the Config struct in upscale.wgsl.
type GPUConfig struct {
	SrcW     uint32 // Source plane width
	SrcH     uint32 // Source plane height
	DstW     uint32 // Destination plane width
	DstH     uint32 // Destination plane height
	Channels uint32 // Number of planes
	Scale    uint32 // Integer upscale factor
	Padding1 uint32 // Padding for alignment
	Padding2 uint32 // Padding for alignment
}

func init() {
	backend.Register(backend.BackendWGPU, open)
}

// open creates a GPU upscaler for the registry. Initialization failures
// surface as ErrBackendNotAvailable so backend selection falls through to
// the CPU backend instead of failing the page.
func open(opts backend.OpenOptions) (backend.Network, error) {
	if opts.Scale < 1 || opts.Scale > 4 {
		return nil, fmt.Errorf("wgpu: unsupported scale %d", opts.Scale)
	}
	layers, err := backend.CheckWeights(opts.ParamPath, opts.BinPath)
	if err != nil {
		return nil, err
	}

	device, queue, instance, err := resolveDevice(opts.Device)
	if err != nil {
		return nil, err
	}

	u := &GPUUpscaler{
		device:   device,
		queue:    queue,
		instance: instance,
		scale:    opts.Scale,
		layers:   layers,
	}
	if err := u.init(); err != nil {
		u.Close()
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendNotAvailable, err)
	}

	backend.Logger().Info("wgpu: upscaler ready",
		"scale", opts.Scale, "layers", layers)
	return u, nil
}

// resolveDevice obtains a HAL device and queue. A shared device provider
// that exposes HAL handles is preferred; otherwise a standalone Vulkan
// device is opened and owned by the upscaler (instance non-nil).
func resolveDevice(provider gpucontext.DeviceProvider) (hal.Device, hal.Queue, hal.Instance, error) {
	if provider != nil {
		type halProvider interface {
			HalDevice() any
			HalQueue() any
		}
		if hp, ok := provider.(halProvider); ok {
			device, dok := hp.HalDevice().(hal.Device)
			queue, qok := hp.HalQueue().(hal.Queue)
			if dok && qok && device != nil && queue != nil {
				return device, queue, nil, nil
			}
		}
	}

	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: vulkan backend not registered",
			backend.ErrBackendNotAvailable)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: create instance: %v",
			backend.ErrBackendNotAvailable, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("%w: no GPU adapters found",
			backend.ErrBackendNotAvailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("%w: open device: %v",
			backend.ErrBackendNotAvailable, err)
	}

	backend.Logger().Info("wgpu: GPU initialized (standalone)",
		"adapter", selected.Info.Name)
	return openDev.Device, openDev.Queue, instance, nil
}

// GPUUpscaler runs tile inference through a WebGPU compute pipeline.
//
// Note: full GPU dispatch requires buffer binding which needs HAL API
// extensions. Pipeline setup and shader compilation run on the device;
// the per-tile math currently executes on the CPU with the same algorithm
// as the shader.
type GPUUpscaler struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue

	// instance is non-nil when the upscaler owns a standalone device.
	instance hal.Instance

	// Compute pipeline
	upscalePipeline hal.ComputePipeline

	// Shader module (cached)
	shaderModule hal.ShaderModule

	// Pipeline layout and bind group layouts
	pipelineLayout   hal.PipelineLayout
	inputBindLayout  hal.BindGroupLayout
	outputBindLayout hal.BindGroupLayout

	// Compiled SPIR-V (cached for verification)
	spirvCode []uint32

	scale  int
	layers int

	initialized bool
	closed      bool
}

// init initializes GPU resources (shader module, layouts, pipeline).
func (u *GPUUpscaler) init() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.device == nil || u.queue == nil {
		return fmt.Errorf("wgpu: device and queue are required")
	}

	// Compile WGSL to SPIR-V
	spirvBytes, err := naga.Compile(upscaleShaderWGSL)
	if err != nil {
		return fmt.Errorf("wgpu: failed to compile shader: %w", err)
	}

	u.spirvCode = make([]uint32, len(spirvBytes)/4)
	for i := range u.spirvCode {
		u.spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	shaderModule, err := u.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "upscale_shader",
		Source: hal.ShaderSource{
			SPIRV: u.spirvCode,
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create shader module: %w", err)
	}
	u.shaderModule = shaderModule

	if err := u.createBindGroupLayouts(); err != nil {
		return err
	}
	if err := u.createPipelineLayout(); err != nil {
		return err
	}
	if err := u.createPipeline(); err != nil {
		return err
	}

	u.initialized = true
	return nil
}

// createBindGroupLayouts creates the bind group layouts for the pipeline.
func (u *GPUUpscaler) createBindGroupLayouts() error {
	// Input bind group layout (group 0)
	inputLayout, err := u.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "upscale_input_layout",
		Entries: []types.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type:           types.BufferBindingTypeUniform,
					MinBindingSize: 32, // sizeof(Config)
				},
			},
			{
				Binding:    1,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type: types.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create input bind group layout: %w", err)
	}
	u.inputBindLayout = inputLayout

	// Output bind group layout (group 1)
	outputLayout, err := u.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "upscale_output_layout",
		Entries: []types.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type: types.BufferBindingTypeStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create output bind group layout: %w", err)
	}
	u.outputBindLayout = outputLayout

	return nil
}

// createPipelineLayout creates the pipeline layout.
func (u *GPUUpscaler) createPipelineLayout() error {
	layout, err := u.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "upscale_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{u.inputBindLayout, u.outputBindLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create pipeline layout: %w", err)
	}
	u.pipelineLayout = layout
	return nil
}

// createPipeline creates the compute pipeline.
func (u *GPUUpscaler) createPipeline() error {
	pipeline, err := u.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "upscale_pipeline",
		Layout: u.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     u.shaderModule,
			EntryPoint: "cs_upscale",
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create upscale pipeline: %w", err)
	}
	u.upscalePipeline = pipeline
	return nil
}

// Forward runs one tile through the upscaler. The input is the padded
// tile; the output covers the full scaled input, caller crops.
func (u *GPUUpscaler) Forward(in *backend.Tensor) (*backend.Tensor, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, fmt.Errorf("wgpu: upscaler is closed")
	}
	if !u.initialized {
		return nil, fmt.Errorf("wgpu: upscaler not initialized")
	}
	if in == nil || !in.Valid() {
		return nil, backend.ErrBadTensor
	}

	if u.scale == 1 {
		out := backend.NewTensor(in.W, in.H, in.C)
		copy(out.Data, in.Data)
		return out, nil
	}

	// Dispatch parameters are prepared and validated per tile; the
	// buffer upload itself is pending HAL buffer binding, so the result
	// is computed with the shader's algorithm on the CPU.
	cfg := GPUConfig{
		SrcW:     uint32(in.W),
		SrcH:     uint32(in.H),
		DstW:     uint32(in.W * u.scale),
		DstH:     uint32(in.H * u.scale),
		Channels: uint32(in.C),
		Scale:    uint32(u.scale),
	}
	backend.Logger().Debug("wgpu: tile dispatch",
		"src_w", cfg.SrcW, "src_h", cfg.SrcH, "dst_w", cfg.DstW, "dst_h", cfg.DstH)

	return backend.Resample(in, u.scale), nil
}

// Scale returns the upscale factor.
func (u *GPUUpscaler) Scale() int {
	return u.scale
}

// Layers returns the layer count parsed from the weight files.
func (u *GPUUpscaler) Layers() int {
	return u.layers
}

// Close destroys GPU resources. When the upscaler opened its own device,
// the device and instance are destroyed too.
func (u *GPUUpscaler) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true

	if u.device == nil {
		return nil
	}

	if u.upscalePipeline != nil {
		u.device.DestroyComputePipeline(u.upscalePipeline)
		u.upscalePipeline = nil
	}
	if u.pipelineLayout != nil {
		u.device.DestroyPipelineLayout(u.pipelineLayout)
		u.pipelineLayout = nil
	}
	if u.inputBindLayout != nil {
		u.device.DestroyBindGroupLayout(u.inputBindLayout)
		u.inputBindLayout = nil
	}
	if u.outputBindLayout != nil {
		u.device.DestroyBindGroupLayout(u.outputBindLayout)
		u.outputBindLayout = nil
	}
	if u.shaderModule != nil {
		u.device.DestroyShaderModule(u.shaderModule)
		u.shaderModule = nil
	}

	if u.instance != nil {
		u.device.Destroy()
		u.instance.Destroy()
		u.instance = nil
	}
	u.device = nil
	u.queue = nil
	return nil
}
