package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/grain-api/internal/cache"
	"github.com/Brownie44l1/grain-api/internal/classify"
	"github.com/Brownie44l1/grain-api/internal/imaging"
	"github.com/Brownie44l1/grain-api/internal/model"
)

type fakeInvoker struct {
	out   classify.RawOutput
	err   error
	size  int
	calls int32
}

func (f *fakeInvoker) Invoke(_ context.Context, tensor []float32) (classify.RawOutput, error) {
	atomic.AddInt32(&f.calls, 1)
	if len(tensor) != f.size {
		return nil, errors.New("wrong tensor size")
	}
	return f.out, f.err
}

func (f *fakeInvoker) Loaded() bool { return true }

func (f *fakeInvoker) InputSize() int { return f.size }

func (f *fakeInvoker) Device() model.Device { return model.DeviceCPU }

func (f *fakeInvoker) Close() {}

const testImageSize = 4

func newTestRouter(t *testing.T, inv model.Invoker, c cache.Cache) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine, err := classify.NewEngine(classify.DefaultCatalog(), classify.DefaultBaseMass)
	require.NoError(t, err)
	pre, err := imaging.NewPreprocessor(testImageSize, imaging.ImageNetMean, imaging.ImageNetStd)
	require.NoError(t, err)

	h := NewHandler(Options{Engine: engine, Invoker: inv, Preprocessor: pre, Cache: c, MaxUploadBytes: 1 << 20})

	r := gin.New()
	r.GET("/health", h.Health)
	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.PredictFromImage)
	r.POST("/predict/tensor", h.PredictFromTensor)
	return r
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 180, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func postJSON(t *testing.T, r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodePrediction(t *testing.T, w *httptest.ResponseRecorder) classify.Prediction {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p classify.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["model_loaded"])
	assert.Equal(t, "none", body["device"])
	assert.Len(t, body["classes"], 5)
}

func TestPredict_NoModelAuto(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))

	p := decodePrediction(t, postJSON(t, r, "/predict", PredictRequest{ImageBase64: payload}))

	assert.Equal(t, "toor", p.PredictedClass)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, "yellow", p.Attributes.Color)
	assert.Len(t, p.Probabilities, 5)
}

func TestPredict_RequestedClassSkipsModel(t *testing.T) {
	inv := &fakeInvoker{out: classify.Vector{Logits: []float64{9, 0, 0, 0, 0}}, size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, nil)

	p := decodePrediction(t, postJSON(t, r, "/predict", PredictRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t)),
		GrainType:   "Chana",
	}))

	assert.Equal(t, "chana", p.PredictedClass)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inv.calls))
}

func TestPredict_UsesModelOutput(t *testing.T) {
	inv := &fakeInvoker{out: classify.Vector{Logits: []float64{0, 0, 0, 6, 0}}, size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, nil)

	p := decodePrediction(t, postJSON(t, r, "/predict", PredictRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t)),
		GrainType:   "auto",
	}))

	assert.Equal(t, "kidney_beans", p.PredictedClass)
	assert.Equal(t, "dark red", p.Attributes.Color)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inv.calls))
}

func TestPredict_TopOneOmitsProbabilities(t *testing.T) {
	inv := &fakeInvoker{out: classify.TopOne{Label: "type_2", Confidence: 0.98}, size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, nil)

	w := postJSON(t, r, "/predict", PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t))})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "type_2", body["predicted_class"])
	assert.Equal(t, 0.98, body["confidence"])
	assert.NotContains(t, body, "probabilities")
}

func TestPredict_ModelFailureFallsBack(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("device lost"), size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, nil)

	p := decodePrediction(t, postJSON(t, r, "/predict", PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t))}))

	assert.Equal(t, "toor", p.PredictedClass)
	assert.Equal(t, 0.8, p.Confidence)
}

func TestPredict_NormalizationErrorIs500(t *testing.T) {
	inv := &fakeInvoker{out: classify.Vector{Logits: []float64{1, 2, 3}}, size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, nil)

	w := postJSON(t, r, "/predict", PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t))})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["details"], "expected 5 values, got 3")
}

func TestPredict_InputErrors(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)

	tests := map[string]interface{}{
		"missing image": map[string]string{"grain_type": "auto"},
		"bad base64":    PredictRequest{ImageBase64: "%%%"},
		"not an image":  PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := postJSON(t, r, "/predict", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict_CachesResponses(t *testing.T) {
	inv := &fakeInvoker{out: classify.Vector{Logits: []float64{0, 4, 0, 0, 0}}, size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, cache.NewMemory(0, 0))
	body := PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t))}

	first := decodePrediction(t, postJSON(t, r, "/predict", body))
	second := decodePrediction(t, postJSON(t, r, "/predict", body))

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inv.calls))
}

func TestPredict_FallbackIsNotCached(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("device lost"), size: 3 * testImageSize * testImageSize}
	r := newTestRouter(t, inv, cache.NewMemory(0, 0))
	body := PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t))}

	degraded := decodePrediction(t, postJSON(t, r, "/predict", body))
	assert.Equal(t, "toor", degraded.PredictedClass)

	inv.err = nil
	inv.out = classify.Vector{Logits: []float64{0, 4, 0, 0, 0}}

	recovered := decodePrediction(t, postJSON(t, r, "/predict", body))
	assert.Equal(t, "chana", recovered.PredictedClass)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inv.calls))
}

func TestPredict_RequestedClassIsCached(t *testing.T) {
	inv := &fakeInvoker{size: 3 * testImageSize * testImageSize}
	c := cache.NewMemory(0, 0)
	r := newTestRouter(t, inv, c)
	body := PredictRequest{ImageBase64: base64.StdEncoding.EncodeToString(pngBytes(t)), GrainType: "moong"}

	decodePrediction(t, postJSON(t, r, "/predict", body))
	assert.Equal(t, 1, c.Len())
}

func TestPredictFromImage(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "sample.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("grain_type", "red_beans"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	p := decodePrediction(t, w)
	assert.Equal(t, "red_beans", p.PredictedClass)
	assert.Equal(t, "red", p.Attributes.Color)
}

func TestPredictFromImage_MissingFile(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("grain_type", "auto"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictFromImage_TooLarge(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "huge.png")
	require.NoError(t, err)
	_, err = fw.Write(make([]byte, 2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "request body too large")
}

func TestPredictFromTensor(t *testing.T) {
	size := 3 * testImageSize * testImageSize
	inv := &fakeInvoker{out: classify.Scalar{Score: 0.5}, size: size}
	r := newTestRouter(t, inv, nil)

	p := decodePrediction(t, postJSON(t, r, "/predict/tensor", TensorRequest{Tensor: make([]float32, size)}))
	assert.Equal(t, "toor", p.PredictedClass)
	assert.Equal(t, 0.5, p.Confidence)
	assert.Equal(t, 0.125, p.Probabilities["chana"])

	w := postJSON(t, r, "/predict/tensor", TensorRequest{Tensor: make([]float32, size-1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expected 48 values, got 47")
}

func TestPredictFromTensor_NoModelUsesPreprocessorSize(t *testing.T) {
	r := newTestRouter(t, model.Unavailable{}, nil)

	p := decodePrediction(t, postJSON(t, r, "/predict/tensor", TensorRequest{
		Tensor:    make([]float32, 3*testImageSize*testImageSize),
		GrainType: "moong",
	}))
	assert.Equal(t, "moong", p.PredictedClass)
}
