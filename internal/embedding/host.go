package embedding

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/singleflight"

	"github.com/clipvault/semantic/internal/semerr"
)

// ggufMagic is the container magic documented in spec.md's glossary. The
// downloaded model file leads with this 4-byte tag before its inference
// payload, letting Host.load sniff corruption cheaply before handing
// anything to the ONNX runtime.
var ggufMagic = []byte("GGUF")

const ggufHeaderSize = 8 // 4-byte magic + 4-byte format version

// Host is C2, the Model Host: a process-singleton holding the model
// weights, tokenizer, and ONNX runtime context. load() is invoked on first
// demand and its result retained until Close is called (reload is
// expensive).
type Host struct {
	mu      sync.Mutex
	loaded  bool
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	libDir  string
	sf      singleflight.Group

	modelPath  string
	dimNative  int
	dim        int // D, the Matryoshka-truncated output dimension
	maxTokens  int
	epsNorm    float64
	epsZero    float64

	log zerolog.Logger
}

// Config configures a Host's pipeline constants (spec.md §6).
type Config struct {
	ModelPath string
	DimNative int
	Dim       int
	MaxTokens int
	EpsNorm   float64
	EpsZero   float64
}

// NewHost creates a Host that has not yet loaded the model. load() is
// deferred to first use.
func NewHost(cfg Config, log zerolog.Logger) *Host {
	return &Host{
		modelPath: cfg.ModelPath,
		dimNative: cfg.DimNative,
		dim:       cfg.Dim,
		maxTokens: cfg.MaxTokens,
		epsNorm:   cfg.EpsNorm,
		epsZero:   cfg.EpsZero,
		log:       log.With().Str("component", "model_host").Logger(),
	}
}

// IsLoaded reports whether the model has been loaded in this process.
func (h *Host) IsLoaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// load performs the one-time model load. Concurrent callers during first
// load serialize on h.mu; only one load runs, and later callers simply
// observe h.loaded == true and return immediately.
func (h *Host) load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		return nil
	}

	if h.dim <= 0 || h.dim > h.dimNative {
		return semerr.New(semerr.KindModelCorrupt, fmt.Sprintf("configured embedding dim %d exceeds native dim %d", h.dim, h.dimNative))
	}

	info, err := os.Stat(h.modelPath)
	if err != nil {
		return semerr.Wrap(semerr.KindModelMissing, err)
	}
	if info.Size() < ggufHeaderSize {
		return semerr.New(semerr.KindModelCorrupt, "file smaller than header")
	}

	f, err := os.Open(h.modelPath)
	if err != nil {
		return semerr.Wrap(semerr.KindModelMissing, err)
	}
	defer f.Close()

	header := make([]byte, ggufHeaderSize)
	if _, err := f.Read(header); err != nil {
		return semerr.Wrap(semerr.KindModelCorrupt, err)
	}
	if !bytes.Equal(header[:4], ggufMagic) {
		return semerr.New(semerr.KindModelCorrupt, "magic mismatch")
	}

	modelData, err := os.ReadFile(h.modelPath)
	if err != nil {
		return semerr.Wrap(semerr.KindModelCorrupt, err)
	}
	modelData = modelData[ggufHeaderSize:]

	libDir, err := extractONNXLibrary()
	if err != nil {
		return semerr.Wrap(semerr.KindModelOOM, fmt.Errorf("extract onnx runtime: %w", err))
	}
	ort.SetSharedLibraryPath(filepath.Join(libDir, onnxRuntimeLibName))

	if err := ort.InitializeEnvironment(); err != nil {
		return semerr.Wrap(semerr.KindModelOOM, fmt.Errorf("initialize onnx runtime: %w", err))
	}

	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerData))
	if err != nil {
		_ = ort.DestroyEnvironment()
		return semerr.Wrap(semerr.KindModelCorrupt, fmt.Errorf("load tokenizer: %w", err))
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"sentence_embedding"}
	session, err := ort.NewDynamicAdvancedSessionWithONNXData(modelData, inputNames, outputNames, nil)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return semerr.Wrap(semerr.KindModelOOM, fmt.Errorf("create onnx session: %w", err))
	}

	h.tk = tk
	h.session = session
	h.libDir = libDir
	h.loaded = true
	h.log.Info().Str("path", h.modelPath).Msg("model loaded")
	return nil
}

// extractONNXLibrary extracts the embedded ONNX runtime shared library to
// a content-hashed temp directory, skipping re-extraction if already present.
func extractONNXLibrary() (string, error) {
	hash := sha256.Sum256(onnxRuntimeLib)
	hashStr := hex.EncodeToString(hash[:8])

	cacheDir := filepath.Join(os.TempDir(), "clipvault-onnx", hashStr)
	libPath := filepath.Join(cacheDir, onnxRuntimeLibName)

	if _, err := os.Stat(libPath); err == nil {
		return cacheDir, nil
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(libPath, onnxRuntimeLib, 0755); err != nil {
		return "", fmt.Errorf("write library: %w", err)
	}
	if len(onnxRuntimeProvidersLib) > 0 && onnxRuntimeProvidersLibName != "" {
		providersPath := filepath.Join(cacheDir, onnxRuntimeProvidersLibName)
		if err := os.WriteFile(providersPath, onnxRuntimeProvidersLib, 0755); err != nil {
			return "", fmt.Errorf("write providers library: %w", err)
		}
	}
	return cacheDir, nil
}

// Embed runs the full C2 pipeline for a single text: tokenize, encode,
// Matryoshka-truncate, normalize. Concurrent calls for the identical text
// (the common case: repeated search queries) share one computation via
// singleflight rather than each paying for their own encode.
func (h *Host) Embed(text string) ([]float32, error) {
	v, err, _ := h.sf.Do(text, func() (interface{}, error) {
		results, err := h.EmbedBatch([]string{text})
		if err != nil {
			return nil, err
		}
		return results[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch runs the pipeline for multiple texts, loading the model on
// first call. Encoding is serialized: only one computeBatch runs at a time
// (the host never panics on contention, it queues).
func (h *Host) EmbedBatch(texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == "" {
			return nil, semerr.New(semerr.KindEmptyQuery, "")
		}
	}

	if err := h.load(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.withEncoder(texts)
}

// withEncoder is the serialized encode critical section. Caller must hold h.mu.
func (h *Host) withEncoder(texts []string) ([][]float32, error) {
	raw, err := h.computeBatch(texts)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		truncated := matryoshkaTruncate(v, h.dim)
		normalized, ok := normalize(truncated, h.epsZero)
		if !ok {
			return nil, semerr.New(semerr.KindDegenerateEmbedding, "")
		}
		out[i] = normalized
	}
	return out, nil
}

// computeBatch tokenizes (with a leading BOS marker and MAX_TOKENS
// truncation) and runs ONNX inference, returning native-dimension vectors.
// Must be called with h.mu held.
func (h *Host) computeBatch(texts []string) ([][]float32, error) {
	inputBatch := make([]tokenizer.EncodeInput, len(texts))
	for i, text := range texts {
		inputBatch[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewRawInputSequence(text))
	}

	// addSpecialTokens=true adds the BOS/CLS marker via the tokenizer's
	// post-processor template (spec.md §4.2 step 1).
	encodings, err := h.tk.EncodeBatch(inputBatch, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	batchSize := len(encodings)
	seqLength := len(encodings[0].Ids)
	if seqLength > h.maxTokens {
		seqLength = h.maxTokens
	}

	inputShape := ort.NewShape(int64(batchSize), int64(seqLength))
	inputIdsData := make([]int64, batchSize*seqLength)
	attentionMaskData := make([]int64, batchSize*seqLength)
	tokenTypeIdsData := make([]int64, batchSize*seqLength)

	for b := 0; b < batchSize; b++ {
		for i := 0; i < seqLength && i < len(encodings[b].Ids); i++ {
			inputIdsData[b*seqLength+i] = int64(encodings[b].Ids[i])
		}
		for i := 0; i < seqLength && i < len(encodings[b].AttentionMask); i++ {
			attentionMaskData[b*seqLength+i] = int64(encodings[b].AttentionMask[i])
		}
		for i := 0; i < seqLength && i < len(encodings[b].TypeIds); i++ {
			tokenTypeIdsData[b*seqLength+i] = int64(encodings[b].TypeIds[i])
		}
	}

	inputIdsTensor, err := ort.NewTensor(inputShape, inputIdsData)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputIdsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(inputShape, attentionMaskData)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIdsTensor, err := ort.NewTensor(inputShape, tokenTypeIdsData)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer tokenTypeIdsTensor.Destroy()

	outputShape := ort.NewShape(int64(batchSize), int64(h.dimNative))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	inputTensors := []ort.Value{inputIdsTensor, attentionMaskTensor, tokenTypeIdsTensor}
	outputTensors := []ort.Value{outputTensor}
	if err := h.session.Run(inputTensors, outputTensors); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	flat := outputTensor.GetData()
	results := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		start := i * h.dimNative
		end := start + h.dimNative
		results[i] = make([]float32, h.dimNative)
		copy(results[i], flat[start:end])
	}
	return results, nil
}

// matryoshkaTruncate takes the first dim components of a native-dimension
// embedding (spec.md §4.2 step 3; Matryoshka-style dimensional reduction).
func matryoshkaTruncate(v []float32, dim int) []float32 {
	if dim >= len(v) {
		return v
	}
	out := make([]float32, dim)
	copy(out, v[:dim])
	return out
}

// normalize scales v to unit L2 length. Returns ok=false if the pre-norm
// magnitude is below epsZero (spec.md §4.2 step 4).
func normalize(v []float32, epsZero float64) ([]float32, bool) {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm < epsZero {
		return nil, false
	}

	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out, true
}

// Close releases the ONNX session and runtime environment.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		return nil
	}

	var errs []error
	if h.session != nil {
		if err := h.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy session: %w", err))
		}
		h.session = nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		errs = append(errs, fmt.Errorf("destroy environment: %w", err))
	}
	h.loaded = false

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
