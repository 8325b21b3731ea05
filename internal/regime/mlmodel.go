package regime

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// FeatureCount is the fixed width of the model input vector.
const FeatureCount = 8

// Model scores a feature vector into bull/bear/neutral logits.
type Model interface {
	Predict(features []float32) (bull, bear, neutral float32, err error)
	Close()
}

// FeatureVector flattens one tick into the fixed model input. Feature order
// is part of the model contract and must not change without retraining.
func FeatureVector(in Input, spot float64) []float32 {
	features := make([]float32, FeatureCount)

	callVol, putVol := chainVolumes(in.Chain)
	if callVol+putVol > 0 {
		features[0] = float32(float64(callVol) / float64(callVol+putVol))
	} else {
		features[0] = 0.5
	}
	features[1] = float32(math.Log1p(float64(in.Chain.TotalVolume())) / 15)

	if in.HasTermStructure {
		features[2] = float32(in.Term.NearTermLevel / 50)
		features[3] = float32(in.Term.Slope() / 10)
	}

	features[4] = float32(volumeWeightedMoneyness(in.Chain.Calls(), spot) * 50)
	features[5] = float32(volumeWeightedMoneyness(in.Chain.Puts(), spot) * 50)

	if len(in.History) >= 15 {
		closes := make([]float64, len(in.History))
		for i, bar := range in.History {
			closes[i] = bar.Close
		}
		features[6] = float32(computeRSI(closes, 14) / 100)
		if vwap := computeVWAP(in.History); vwap > 0 && spot > 0 {
			features[7] = float32((spot - vwap) / vwap * 100)
		}
	} else {
		features[6] = 0.5
	}

	return features
}

var ortInitOnce sync.Once

func initializeORT() error {
	var err error
	ortInitOnce.Do(func() {
		libPath := "/usr/lib/libonnxruntime.so"
		if runtime.GOOS == "windows" {
			libPath = "onnxruntime.dll"
		} else if runtime.GOOS == "darwin" {
			libPath = "libonnxruntime.dylib"
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// ONNXModel runs a trained regime classifier via onnxruntime. The network
// takes the FeatureCount-wide vector and emits three logits in
// bull/bear/neutral order.
type ONNXModel struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXModel loads the classifier from modelPath.
func NewONNXModel(modelPath string) (*ONNXModel, error) {
	if err := initializeORT(); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, FeatureCount), make([]float32, FeatureCount))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ONNXModel{session: session, input: inputTensor, output: outputTensor}, nil
}

// Predict runs inference and returns softmaxed scores scaled to sum 100.
// The session tensors are reused, so calls are serialized.
func (m *ONNXModel) Predict(features []float32) (bull, bear, neutral float32, err error) {
	if len(features) != FeatureCount {
		return 0, 0, 0, fmt.Errorf("expected %d features, got %d", FeatureCount, len(features))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.input.GetData(), features)
	if err := m.session.Run(); err != nil {
		return 0, 0, 0, fmt.Errorf("inference: %w", err)
	}

	out := m.output.GetData()
	b, r, n := softmax3(out[0], out[1], out[2])
	return b * 100, r * 100, n * 100, nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.input != nil {
		m.input.Destroy()
		m.input = nil
	}
	if m.output != nil {
		m.output.Destroy()
		m.output = nil
	}
}

func softmax3(a, b, c float32) (float32, float32, float32) {
	max := math.Max(float64(a), math.Max(float64(b), float64(c)))
	ea := math.Exp(float64(a) - max)
	eb := math.Exp(float64(b) - max)
	ec := math.Exp(float64(c) - max)
	sum := ea + eb + ec
	return float32(ea / sum), float32(eb / sum), float32(ec / sum)
}

var _ Model = (*ONNXModel)(nil)
