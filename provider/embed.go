package provider

import (
	"context"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/blakebarnett/thymos/errs"
)

// Embedder mirrors the teacher's internal.Embedder contract (internal/llm.go)
// generalized to the batch/dimension shape spec §6.2 requires. Only
// referenced when hybrid search is enabled (spec §4.3.3); SearchInScope and
// plain keyword search never call it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// ONNXEmbedder runs a local sentence-embedding model through onnxruntime,
// replacing the teacher's gollama.cpp-backed embedder (unfetchable outside
// the teacher's own vendored deps/ tree, see DESIGN.md) with a dependency
// this retrieval pack can actually resolve.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	dimension int
	tokenize  func(string) []int64
}

// NewONNXEmbedder loads an ONNX embedding model from modelPath. tokenize
// converts raw text into the model's input token ids; callers supply it
// because tokenizer choice (wordpiece, BPE, sentencepiece) is model-specific
// and out of scope for this package.
func NewONNXEmbedder(libPath, modelPath string, dimension int, tokenize func(string) []int64) (*ONNXEmbedder, error) {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errs.Wrap(errs.Resource, "provider.NewONNXEmbedder", err)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids"}, []string{"embedding"}, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "provider.NewONNXEmbedder", err)
	}
	return &ONNXEmbedder{session: session, dimension: dimension, tokenize: tokenize}, nil
}

func (e *ONNXEmbedder) Dimension() int { return e.dimension }

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.Cancelled, "provider.ONNXEmbedder.EmbedBatch", ctx.Err())
		default:
		}

		ids := e.tokenize(text)
		inputShape := ort.NewShape(1, int64(len(ids)))
		inputTensor, err := ort.NewTensor(inputShape, ids)
		if err != nil {
			return nil, errs.Wrap(errs.Validation, "provider.ONNXEmbedder.EmbedBatch", err)
		}

		outputShape := ort.NewShape(1, int64(e.dimension))
		outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
		if err != nil {
			inputTensor.Destroy()
			return nil, errs.Wrap(errs.Resource, "provider.ONNXEmbedder.EmbedBatch", err)
		}

		err = e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor})
		inputTensor.Destroy()
		if err != nil {
			outputTensor.Destroy()
			return nil, errs.Wrap(errs.Resource, "provider.ONNXEmbedder.EmbedBatch", err)
		}

		vec := make([]float32, e.dimension)
		copy(vec, outputTensor.GetData())
		outputTensor.Destroy()
		results[i] = vec
	}
	return results, nil
}

func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return ort.DestroyEnvironment()
}
