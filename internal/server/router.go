package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/grain-api/internal/handlers"
)

// NewRouter wires the HTTP routes. limiter may be nil. Client addresses are
// taken from X-Forwarded-For only when the peer is in trustedProxies.
func NewRouter(h *handlers.Handler, log *zap.Logger, limiter *Limiter, maxUploadBytes int64, trustedProxies []string) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxUploadBytes
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		log.Warn("invalid trusted proxies, trusting none", zap.Strings("proxies", trustedProxies), zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(CORS())

	r.GET("/health", h.Health)

	predict := r.Group("/predict")
	if limiter != nil {
		predict.Use(RateLimit(limiter))
	}
	predict.POST("", h.Predict)
	predict.POST("/image", h.PredictFromImage)
	predict.POST("/tensor", h.PredictFromTensor)

	// preflight requests are answered by CORS before reaching these
	for _, path := range []string{"/health", "/predict", "/predict/image", "/predict/tensor"} {
		r.OPTIONS(path, func(*gin.Context) {})
	}

	return r
}
