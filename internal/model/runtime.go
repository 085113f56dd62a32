package model

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/grain-api/internal/classify"
)

type Options struct {
	ModelPath     string
	MetadataPath  string
	SharedLibrary string
	Device        Device
}

// Runtime owns an ONNX Runtime session and the tensors bound to it. It is
// built once at startup; Invoke serializes runs because the bound tensors
// are shared.
type Runtime struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	metadata     Metadata
	device       Device
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Open loads the model described by opts. A missing model file or a failed
// load yields Unavailable so the service keeps answering with simulated
// predictions.
func Open(opts Options, log *zap.Logger) Invoker {
	if opts.Device == DeviceNone {
		log.Info("model disabled by configuration, running in simulation mode")
		return Unavailable{}
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		log.Warn("model file not found, running in simulation mode", zap.String("path", opts.ModelPath))
		return Unavailable{}
	}

	rt, err := NewRuntime(opts, log)
	if err != nil {
		log.Warn("failed to load model, running in simulation mode", zap.Error(err))
		return Unavailable{}
	}

	log.Info("model loaded",
		zap.String("path", opts.ModelPath),
		zap.String("device", string(rt.device)),
		zap.Strings("classes", rt.metadata.Classes),
		zap.String("output_kind", string(rt.metadata.OutputKind)))
	return rt
}

func NewRuntime(opts Options, log *zap.Logger) (*Runtime, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibrary != "" {
		ort.SetSharedLibraryPath(opts.SharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, device, err := openSession(opts.Device, log, func(want Device) (*ort.AdvancedSession, Device, error) {
		sessionOpts, device, err := sessionOptions(want)
		if err != nil {
			log.Warn("CUDA execution provider unavailable, using CPU", zap.Error(err))
		}
		if sessionOpts != nil {
			defer sessionOpts.Destroy()
		}

		session, err := ort.NewAdvancedSession(opts.ModelPath,
			[]string{metadata.InputName}, []string{metadata.OutputName},
			[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
			sessionOpts)
		return session, device, err
	})
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Runtime{
		session:      session,
		metadata:     metadata,
		device:       device,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// openSession retries on CPU when a session with the CUDA provider cannot be
// created, e.g. when the CUDA libraries are missing at load time.
func openSession(want Device, log *zap.Logger, open func(Device) (*ort.AdvancedSession, Device, error)) (*ort.AdvancedSession, Device, error) {
	session, device, err := open(want)
	if err == nil || device == DeviceCPU {
		return session, device, err
	}

	log.Warn("failed to create CUDA session, retrying on CPU", zap.Error(err))
	return open(DeviceCPU)
}

// sessionOptions returns nil options for plain CPU sessions. When CUDA was
// asked for but cannot be set up it returns CPU together with the reason.
func sessionOptions(device Device) (*ort.SessionOptions, Device, error) {
	if device == DeviceCPU || device == "" {
		return nil, DeviceCPU, nil
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, DeviceCPU, fmt.Errorf("create session options: %w", err)
	}

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, DeviceCPU, fmt.Errorf("create CUDA provider options: %w", err)
	}
	defer cudaOpts.Destroy()

	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		opts.Destroy()
		return nil, DeviceCPU, fmt.Errorf("append CUDA provider: %w", err)
	}

	return opts, DeviceCUDA, nil
}

func (r *Runtime) Invoke(ctx context.Context, tensor []float32) (classify.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tensor) != r.InputSize() {
		return nil, fmt.Errorf("input tensor has %d values, model expects %d", len(tensor), r.InputSize())
	}

	r.mu.Lock()
	copy(r.inputTensor.GetData(), tensor)
	err := r.session.Run()
	out := append([]float32(nil), r.outputTensor.GetData()...)
	r.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return interpret(r.metadata, out)
}

func (r *Runtime) Loaded() bool { return true }

func (r *Runtime) InputSize() int { return r.metadata.InputSize() }

func (r *Runtime) Device() Device { return r.device }

func (r *Runtime) Metadata() Metadata { return r.metadata }

func (r *Runtime) Close() {
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
	if r.session != nil {
		r.session.Destroy()
	}
	ort.DestroyEnvironment()
}
