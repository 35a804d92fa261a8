package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"sokoyetu-ai/internal/common"
)

type Settings struct {
	ListenAddr        string
	DataPath          string
	DatabaseURL       string
	ModelDir          string
	TrackingURI       string
	TrackingTimeout   time.Duration
	ExperimentName    string
	InferenceTimeout  time.Duration
	CropImageSize     int
	GradeImageSize    int
	YieldHistoryYears int
	TrustedDomains    []string
	ValidUnits        []string
	ValidCountries    []int64
	LogLevel          string
	// RateLimit is prediction requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

type ConfigFile struct {
	Server struct {
		ListenAddr string  `yaml:"listenAddr"`
		LogLevel   string  `yaml:"logLevel"`
		RateLimit  float64 `yaml:"rateLimit"`
		RateBurst  int     `yaml:"rateBurst"`
	} `yaml:"server"`

	Storage struct {
		DataPath    string `yaml:"dataPath"`
		DatabaseURL string `yaml:"databaseURL"`
	} `yaml:"storage"`

	Models struct {
		Dir               string `yaml:"dir"`
		InferenceTimeout  string `yaml:"inferenceTimeout"`
		CropImageSize     int    `yaml:"cropImageSize"`
		GradeImageSize    int    `yaml:"gradeImageSize"`
		YieldHistoryYears int    `yaml:"yieldHistoryYears"`
	} `yaml:"models"`

	Tracking struct {
		URI        string `yaml:"uri"`
		Timeout    string `yaml:"timeout"`
		Experiment string `yaml:"experiment"`
	} `yaml:"tracking"`

	Validation struct {
		TrustedDomains []string `yaml:"trustedDomains"`
		ValidUnits     []string `yaml:"validUnits"`
		ValidCountries []int64  `yaml:"validCountries"`
	} `yaml:"validation"`
}

// Load reads settings from CONFIG_FILE when set, otherwise from the
// environment. A .env file in the working directory (or ENV_FILE) is loaded
// first; variables already set in the environment win.
func Load() (Settings, error) {
	if err := loadDotEnv(getEnvOrDefault(common.EnvDotEnvFile, ".env")); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	inferenceTimeout, err := time.ParseDuration(config.Models.InferenceTimeout)
	if err != nil {
		inferenceTimeout = common.DefaultInferenceTimeout
	}
	trackingTimeout, err := time.ParseDuration(config.Tracking.Timeout)
	if err != nil {
		trackingTimeout = common.DefaultTrackingTimeout
	}

	countries, err := getCountriesFromEnvOrConfig(config.Validation.ValidCountries)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		ListenAddr:        getEnvOrDefault(common.EnvListenAddr, orDefault(config.Server.ListenAddr, common.DefaultListenAddr)),
		DataPath:          getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		DatabaseURL:       getEnvOrDefault(common.EnvDatabaseURL, config.Storage.DatabaseURL),
		ModelDir:          getEnvOrDefault(common.EnvArtifactRoot, orDefault(config.Models.Dir, common.DefaultArtifactRoot)),
		TrackingURI:       getEnvOrDefault(common.EnvTrackingURI, config.Tracking.URI),
		TrackingTimeout:   getDurationOrDefault(common.EnvTrackingTimeout, trackingTimeout),
		ExperimentName:    getEnvOrDefault(common.EnvExperimentName, orDefault(config.Tracking.Experiment, common.DefaultExperimentName)),
		InferenceTimeout:  getDurationOrDefault(common.EnvInferenceTimeout, inferenceTimeout),
		CropImageSize:     getIntFromEnvOrConfig(common.EnvCropImageSize, config.Models.CropImageSize, common.DefaultCropImageSize),
		GradeImageSize:    getIntFromEnvOrConfig(common.EnvGradeImageSize, config.Models.GradeImageSize, common.DefaultGradeImageSize),
		YieldHistoryYears: getIntFromEnvOrConfig(common.EnvYieldHistoryYears, config.Models.YieldHistoryYears, common.DefaultYieldHistoryYears),
		TrustedDomains:    getListFromEnvOrConfig(common.EnvTrustedDomains, config.Validation.TrustedDomains, common.DefaultTrustedDomains),
		ValidUnits:        getListFromEnvOrConfig(common.EnvValidUnits, config.Validation.ValidUnits, common.DefaultValidUnits),
		ValidCountries:    countries,
		LogLevel:          getEnvOrDefault(common.EnvLogLevel, orDefault(config.Server.LogLevel, common.DefaultLogLevel)),
		RateLimit:         getFloatFromEnvOrConfig(common.EnvRateLimit, config.Server.RateLimit, common.DefaultRateLimit),
		RateBurst:         getIntFromEnvOrConfig(common.EnvRateBurst, config.Server.RateBurst, common.DefaultRateBurst),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	countries, err := getCountriesFromEnvOrConfig(nil)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		ListenAddr:        getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		DataPath:          getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		DatabaseURL:       os.Getenv(common.EnvDatabaseURL), // optional
		ModelDir:          getEnvOrDefault(common.EnvArtifactRoot, common.DefaultArtifactRoot),
		TrackingURI:       os.Getenv(common.EnvTrackingURI), // optional, local store when empty
		TrackingTimeout:   getDurationOrDefault(common.EnvTrackingTimeout, common.DefaultTrackingTimeout),
		ExperimentName:    getEnvOrDefault(common.EnvExperimentName, common.DefaultExperimentName),
		InferenceTimeout:  getDurationOrDefault(common.EnvInferenceTimeout, common.DefaultInferenceTimeout),
		CropImageSize:     getIntOrDefault(common.EnvCropImageSize, common.DefaultCropImageSize),
		GradeImageSize:    getIntOrDefault(common.EnvGradeImageSize, common.DefaultGradeImageSize),
		YieldHistoryYears: getIntOrDefault(common.EnvYieldHistoryYears, common.DefaultYieldHistoryYears),
		TrustedDomains:    splitOrDefault(os.Getenv(common.EnvTrustedDomains), common.DefaultTrustedDomains),
		ValidUnits:        splitOrDefault(os.Getenv(common.EnvValidUnits), common.DefaultValidUnits),
		ValidCountries:    countries,
		LogLevel:          getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		RateLimit:         getFloatOrDefault(common.EnvRateLimit, common.DefaultRateLimit),
		RateBurst:         getIntOrDefault(common.EnvRateBurst, common.DefaultRateBurst),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// Level returns the parsed log level.
func (s *Settings) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getListFromEnvOrConfig(key string, configValue, def []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return append([]string(nil), def...)
}

func getCountriesFromEnvOrConfig(configValue []int64) ([]int64, error) {
	env := os.Getenv(common.EnvValidCountries)
	if env == "" {
		if len(configValue) > 0 {
			return configValue, nil
		}
		return append([]int64(nil), common.DefaultValidCountries...), nil
	}
	var out []int64
	for _, s := range splitOrDefault(env, nil) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", common.EnvValidCountries, s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.TrackingURI != "" && !strings.HasPrefix(settings.TrackingURI, "http://") && !strings.HasPrefix(settings.TrackingURI, "https://") {
		return fmt.Errorf("tracking URI must be an http(s) URL, got %q", settings.TrackingURI)
	}
	if settings.ExperimentName == "" {
		return fmt.Errorf("experiment name cannot be empty")
	}

	// Validate time durations
	if settings.InferenceTimeout < 100*time.Millisecond || settings.InferenceTimeout > 5*time.Minute {
		return fmt.Errorf("inference timeout must be between 100ms and 5m, got %v", settings.InferenceTimeout)
	}
	if settings.TrackingTimeout < time.Second || settings.TrackingTimeout > time.Minute {
		return fmt.Errorf("tracking timeout must be between 1s and 1m, got %v", settings.TrackingTimeout)
	}

	// Validate integer values
	if settings.CropImageSize < 8 || settings.CropImageSize > 2048 {
		return fmt.Errorf("crop image size must be between 8 and 2048, got %d", settings.CropImageSize)
	}
	if settings.GradeImageSize < 8 || settings.GradeImageSize > 4096 {
		return fmt.Errorf("grade image size must be between 8 and 4096, got %d", settings.GradeImageSize)
	}
	if settings.YieldHistoryYears < 1 || settings.YieldHistoryYears > 50 {
		return fmt.Errorf("yield history years must be between 1 and 50, got %d", settings.YieldHistoryYears)
	}

	if settings.RateLimit < 0 || settings.RateLimit > 10000 {
		return fmt.Errorf("rate limit must be between 0 and 10000, got %v", settings.RateLimit)
	}
	if settings.RateLimit > 0 && (settings.RateBurst < 1 || settings.RateBurst > 10000) {
		return fmt.Errorf("rate burst must be between 1 and 10000, got %d", settings.RateBurst)
	}

	// Validate reference vocabularies
	if len(settings.TrustedDomains) == 0 {
		return fmt.Errorf("at least one trusted image domain must be specified")
	}
	if len(settings.ValidUnits) == 0 {
		return fmt.Errorf("at least one unit must be specified")
	}
	for i, u := range settings.ValidUnits {
		settings.ValidUnits[i] = strings.ToLower(u)
	}
	if len(settings.ValidCountries) == 0 {
		return fmt.Errorf("at least one country must be specified")
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}
	return nil
}
