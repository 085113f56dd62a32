package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Brownie44l1/grain-api/internal/cache"
	"github.com/Brownie44l1/grain-api/internal/classify"
	"github.com/Brownie44l1/grain-api/internal/errorutil"
	"github.com/Brownie44l1/grain-api/internal/imaging"
	"github.com/Brownie44l1/grain-api/internal/model"
)

type PredictRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	GrainType   string `json:"grain_type"`
}

type TensorRequest struct {
	Tensor    []float32 `json:"tensor" binding:"required"`
	GrainType string    `json:"grain_type"`
}

type Handler struct {
	engine       *classify.Engine
	invoker      model.Invoker
	preprocessor *imaging.Preprocessor
	cache        cache.Cache
	log          *zap.Logger
	maxBody      int64
}

// Options wires a Handler. Cache, Invoker and Log may be nil.
type Options struct {
	Engine         *classify.Engine
	Invoker        model.Invoker
	Preprocessor   *imaging.Preprocessor
	Cache          cache.Cache
	Log            *zap.Logger
	MaxUploadBytes int64
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		engine:       opts.Engine,
		invoker:      opts.Invoker,
		preprocessor: opts.Preprocessor,
		cache:        opts.Cache,
		log:          opts.Log,
		maxBody:      opts.MaxUploadBytes,
	}
	if h.cache == nil {
		h.cache = cache.Nop{}
	}
	if h.invoker == nil {
		h.invoker = model.Unavailable{}
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.maxBody <= 0 {
		h.maxBody = 10 << 20
	}
	return h
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": h.invoker.Loaded(),
		"device":       h.invoker.Device(),
		"classes":      h.engine.Catalog().Labels(),
	})
}

// Predict handles {"image_base64": ..., "grain_type": ...}.
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	data, err := imaging.PayloadBytes(req.ImageBase64)
	if err != nil {
		h.fail(c, errorutil.Input("invalid image_base64", err))
		return
	}

	h.respond(c, req.GrainType, data)
}

// PredictFromImage handles a multipart upload with an "image" file field and
// an optional "grain_type" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	header, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, errorutil.Input("request body too large", err))
			return
		}
		h.fail(c, errorutil.Input("no image file provided, use 'image' as the form field name", err))
		return
	}

	file, err := header.Open()
	if err != nil {
		h.fail(c, errorutil.Input("failed to open uploaded image", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(c, errorutil.Input("failed to read uploaded image", err))
		return
	}

	h.log.Debug("received upload",
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size))

	h.respond(c, c.PostForm("grain_type"), data)
}

// PredictFromTensor takes an already preprocessed CHW tensor.
func (h *Handler) PredictFromTensor(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	var req TensorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	expected := h.invoker.InputSize()
	if expected == 0 {
		expected = h.preprocessor.TensorLen()
	}
	if len(req.Tensor) != expected {
		h.fail(c, errorutil.Input(fmt.Sprintf("expected %d values, got %d", expected, len(req.Tensor)), nil))
		return
	}

	raw := classify.RawOutput(classify.NoModel{})
	if h.engine.NeedsModel(req.GrainType) {
		raw, _ = h.invoke(c.Request.Context(), req.Tensor)
	}

	pred, err := h.engine.Classify(req.GrainType, raw)
	if err != nil {
		h.fail(c, errorutil.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (h *Handler) respond(c *gin.Context, requested string, data []byte) {
	pred, err := h.classifyImage(c.Request.Context(), requested, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

// classifyImage decodes the image even when the model will not run, so a
// broken payload is always reported to the caller.
func (h *Handler) classifyImage(ctx context.Context, requested string, data []byte) (classify.Prediction, error) {
	key := cache.Key(requested, data)
	if pred, ok := h.cache.Get(key); ok {
		return pred, nil
	}

	img, format, err := imaging.DecodeBytes(data)
	if err != nil {
		return classify.Prediction{}, errorutil.Input("invalid image format, supported: JPEG, PNG, GIF", err)
	}
	h.log.Debug("decoded image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	raw := classify.RawOutput(classify.NoModel{})
	degraded := false
	if h.engine.NeedsModel(requested) && h.invoker.Loaded() {
		raw, degraded = h.invoke(ctx, h.preprocessor.Tensor(img))
	}

	pred, err := h.engine.Classify(requested, raw)
	if err != nil {
		return classify.Prediction{}, errorutil.Wrap(err)
	}

	// a fallback after a failed run must not outlive the failure
	if !degraded {
		h.cache.Set(key, pred)
	}
	return pred, nil
}

// invoke treats a failed model run as no model at all and reports that it
// degraded.
func (h *Handler) invoke(ctx context.Context, tensor []float32) (classify.RawOutput, bool) {
	raw, err := h.invoker.Invoke(ctx, tensor)
	if err != nil {
		h.log.Warn("model invocation failed, using simulated prediction", zap.Error(err))
		return classify.NoModel{}, true
	}
	return raw, false
}

func (h *Handler) fail(c *gin.Context, err error) {
	e := errorutil.Wrap(err)
	if e.Kind == errorutil.KindInput {
		h.log.Info("rejected request", zap.String("path", c.FullPath()), zap.Error(e))
	} else {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(e))
	}
	RespondError(c, e)
}

// RespondError writes {"error": ..., "details": ...} with the status of err.
func RespondError(c *gin.Context, err error) {
	e := errorutil.Wrap(err)

	body := gin.H{"error": e.Message}
	if e.Details != "" {
		body["details"] = e.Details
	}
	c.AbortWithStatusJSON(e.Code, body)
}

func bindError(err error) *errorutil.Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errorutil.Input(fmt.Sprintf("%s is %s", jsonName(fe), fe.Tag()), nil)
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errorutil.Input("request body too large", err)
	}

	return errorutil.Input("invalid JSON", err)
}

func jsonName(fe validator.FieldError) string {
	switch fe.Field() {
	case "ImageBase64":
		return "image_base64"
	case "Tensor":
		return "tensor"
	default:
		return fe.Field()
	}
}
