package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Brownie44l1/grain-api/internal/classify"
	"github.com/Brownie44l1/grain-api/internal/imaging"
	"github.com/Brownie44l1/grain-api/internal/model"
)

// EnvPrefix prefixes environment overrides, e.g. GRAIN_SERVER_PORT.
const EnvPrefix = "GRAIN"

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Classes    ClassesConfig    `mapstructure:"classes" yaml:"classes"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is honoured
	// when identifying clients. Empty means the peer address is used.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

type ModelConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	MetadataPath  string `mapstructure:"metadata_path" yaml:"metadata_path"`
	SharedLibrary string `mapstructure:"shared_library" yaml:"shared_library"`
	Device        string `mapstructure:"device" yaml:"device"`
}

type ClassesConfig struct {
	Labels     []string                       `mapstructure:"labels" yaml:"labels"`
	Positive   string                         `mapstructure:"positive" yaml:"positive"`
	Default    string                         `mapstructure:"default" yaml:"default"`
	Attributes map[string]classify.Attributes `mapstructure:"attributes" yaml:"attributes"`
}

type SimulationConfig struct {
	BaseMass float64 `mapstructure:"base_mass" yaml:"base_mass"`
}

type PreprocessConfig struct {
	ImageSize int       `mapstructure:"image_size" yaml:"image_size"`
	Mean      []float64 `mapstructure:"mean" yaml:"mean"`
	Std       []float64 `mapstructure:"std" yaml:"std"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Cleanup time.Duration `mapstructure:"cleanup" yaml:"cleanup"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5001")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("model.path", "models/model.onnx")
	v.SetDefault("model.metadata_path", "models/model_metadata.json")
	v.SetDefault("model.shared_library", "")
	v.SetDefault("model.device", string(model.DeviceAuto))

	v.SetDefault("classes.labels", classify.DefaultLabels())
	v.SetDefault("classes.positive", "toor")
	v.SetDefault("classes.default", "toor")
	attrs := make(map[string]interface{})
	for label, a := range classify.DefaultAttributes() {
		attrs[label] = map[string]interface{}{
			"color":       a.Color,
			"size_mm":     a.SizeMM,
			"protein_pct": a.ProteinPct,
		}
	}
	v.SetDefault("classes.attributes", attrs)

	v.SetDefault("simulation.base_mass", classify.DefaultBaseMass)

	v.SetDefault("preprocess.image_size", imaging.DefaultImageSize)
	v.SetDefault("preprocess.mean", toFloat64(imaging.ImageNetMean))
	v.SetDefault("preprocess.std", toFloat64(imaging.ImageNetStd))

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.cleanup", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the configuration with no file, env or flag overrides.
func Default() *Config {
	cfg, err := Load(viper.New())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load applies defaults to v, unmarshals it and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadFile reads an explicit config file into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", proxy)
		}
	}
	switch model.Device(c.Model.Device) {
	case model.DeviceAuto, model.DeviceCPU, model.DeviceCUDA, model.DeviceNone:
	default:
		return fmt.Errorf("model.device %q must be one of auto, cpu, cuda, none", c.Model.Device)
	}
	if len(c.Preprocess.Mean) != 3 || len(c.Preprocess.Std) != 3 {
		return fmt.Errorf("preprocess.mean and preprocess.std need three values")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}

	catalog, err := c.Catalog()
	if err != nil {
		return fmt.Errorf("classes: %w", err)
	}
	if _, err := classify.NewSimulator(catalog, c.Simulation.BaseMass); err != nil {
		return err
	}
	if _, err := c.Preprocessor(); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	return nil
}

func (c *Config) Catalog() (*classify.Catalog, error) {
	return classify.NewCatalog(c.Classes.Labels, c.Classes.Positive, c.Classes.Default, c.Classes.Attributes)
}

func (c *Config) Preprocessor() (*imaging.Preprocessor, error) {
	return c.PreprocessorWithSize(c.Preprocess.ImageSize)
}

// PreprocessorWithSize overrides the configured image size, which a model's
// metadata may do.
func (c *Config) PreprocessorWithSize(size int) (*imaging.Preprocessor, error) {
	var mean, std [3]float32
	for i := 0; i < 3 && i < len(c.Preprocess.Mean); i++ {
		mean[i] = float32(c.Preprocess.Mean[i])
	}
	for i := 0; i < 3 && i < len(c.Preprocess.Std); i++ {
		std[i] = float32(c.Preprocess.Std[i])
	}
	return imaging.NewPreprocessor(size, mean, std)
}

func (c *Config) ModelOptions() model.Options {
	return model.Options{
		ModelPath:     c.Model.Path,
		MetadataPath:  c.Model.MetadataPath,
		SharedLibrary: c.Model.SharedLibrary,
		Device:        model.Device(c.Model.Device),
	}
}

// MaxUploadBytes is the request body limit derived from server.max_upload_mb.
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

func toFloat64(v [3]float32) []float64 {
	return []float64{float64(v[0]), float64(v[1]), float64(v[2])}
}
