package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Brownie44l1/grain-api/internal/cache"
	"github.com/Brownie44l1/grain-api/internal/classify"
	"github.com/Brownie44l1/grain-api/internal/config"
	"github.com/Brownie44l1/grain-api/internal/handlers"
	"github.com/Brownie44l1/grain-api/internal/imaging"
	"github.com/Brownie44l1/grain-api/internal/logger"
	"github.com/Brownie44l1/grain-api/internal/model"
	"github.com/Brownie44l1/grain-api/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP prediction server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	root := projectRoot()
	cfg.Model.Path = resolve(root, cfg.Model.Path)
	cfg.Model.MetadataPath = resolve(root, cfg.Model.MetadataPath)

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	engine, err := classify.NewEngine(catalog, cfg.Simulation.BaseMass)
	if err != nil {
		return err
	}

	invoker := model.Open(cfg.ModelOptions(), log)
	defer invoker.Close()

	preprocessor, err := buildPreprocessor(cfg, invoker, catalog, log)
	if err != nil {
		return err
	}

	var predictions cache.Cache = cache.Nop{}
	if cfg.Cache.Enabled {
		predictions = cache.NewMemory(cfg.Cache.TTL, cfg.Cache.Cleanup)
	}

	var limiter *server.Limiter
	if cfg.RateLimit.Enabled {
		limiter = server.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	gin.SetMode(gin.ReleaseMode)
	h := handlers.NewHandler(handlers.Options{
		Engine:         engine,
		Invoker:        invoker,
		Preprocessor:   preprocessor,
		Cache:          predictions,
		Log:            log,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.NewRouter(h, log, limiter, cfg.MaxUploadBytes(), cfg.Server.TrustedProxies),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Bool("model_loaded", invoker.Loaded()),
			zap.String("device", string(invoker.Device())),
			zap.Strings("classes", catalog.Labels()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// buildPreprocessor prefers the image size recorded in the model metadata
// and warns when the model's class order differs from the catalog.
func buildPreprocessor(cfg *config.Config, invoker model.Invoker, catalog *classify.Catalog, log *zap.Logger) (*imaging.Preprocessor, error) {
	rt, ok := invoker.(*model.Runtime)
	if !ok {
		return cfg.Preprocessor()
	}

	meta := rt.Metadata()
	if meta.OutputKind != model.OutputTopOne && len(meta.Classes) > 0 && !equal(meta.Classes, catalog.Labels()) {
		log.Warn("model classes differ from configured labels; logits are mapped in label order",
			zap.Strings("model_classes", meta.Classes),
			zap.Strings("labels", catalog.Labels()))
	}

	size := cfg.Preprocess.ImageSize
	if meta.ImageSize > 0 {
		size = meta.ImageSize
	}
	pre, err := cfg.PreprocessorWithSize(size)
	if err != nil {
		return nil, err
	}
	if pre.TensorLen() != rt.InputSize() {
		log.Warn("preprocessed tensor size differs from model input",
			zap.Int("tensor", pre.TensorLen()),
			zap.Int("model_input", rt.InputSize()))
	}
	return pre, nil
}

// projectRoot is the working directory, or the repository root when
// started from cmd/server.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
