package common

import "time"

// Model names as registered in the model registry and the tracker.
const (
	ModelPricePredictor     = "price_predictor"
	ModelYieldForecaster    = "yield_forecaster"
	ModelCropAnalyzer       = "crop_analyzer"
	ModelCropTypeClassifier = "crop_type_classifier"
	ModelProduceGrader      = "produce_grader"
)

// Environment variable keys
const (
	EnvConfigFile        = "CONFIG_FILE"
	EnvListenAddr        = "LISTEN_ADDR"
	EnvDataPath          = "DATA_PATH"
	EnvDatabaseURL       = "DATABASE_URL"
	EnvArtifactRoot      = "MODEL_DIR"
	EnvTrackingURI       = "TRACKING_URI"
	EnvTrackingTimeout   = "TRACKING_TIMEOUT"
	EnvExperimentName    = "EXPERIMENT_NAME"
	EnvInferenceTimeout  = "INFERENCE_TIMEOUT"
	EnvCropImageSize     = "CROP_IMAGE_SIZE"
	EnvGradeImageSize    = "GRADE_IMAGE_SIZE"
	EnvYieldHistoryYears = "YIELD_HISTORY_YEARS"
	EnvTrustedDomains    = "TRUSTED_IMAGE_DOMAINS"
	EnvValidUnits        = "VALID_UNITS"
	EnvValidCountries    = "VALID_COUNTRIES"
	EnvLogLevel          = "LOG_LEVEL"
	EnvDotEnvFile        = "ENV_FILE"
	EnvRateLimit         = "RATE_LIMIT"
	EnvRateBurst         = "RATE_BURST"
)

// Configuration defaults
const (
	DefaultListenAddr        = ":8000"
	DefaultDataPath          = "data"
	DefaultArtifactRoot      = "models"
	DefaultExperimentName    = "soko_yetu_ai"
	DefaultProjectTag        = "Soko Yetu AI"
	DefaultStage             = "Production"
	DefaultCurrency          = "KES"
	DefaultCropImageSize     = 256
	DefaultGradeImageSize    = 512
	DefaultYieldHistoryYears = 3
	DefaultPriceHistoryLimit = 365
	DefaultLogLevel          = "info"
	DefaultRateLimit         = 50
	DefaultRateBurst         = 100

	DefaultInferenceTimeout = 10 * time.Second
	DefaultTrackingTimeout  = 5 * time.Second
)

// Fixed confidences reported by the regression verticals.
const (
	PriceConfidence = 0.85
	YieldConfidence = 0.85
)

// Tag keys written on tracked runs.
const (
	TagProject            = "project"
	TagStage              = "stage"
	TagTrainingDate       = "training_date"
	TagVertical           = "vertical"
	TagDegraded           = "model_load_degraded"
	TagFailed             = "failed"
	TagContextUnavailable = "context_unavailable"
)

var (
	// DefaultTrustedDomains are the image hosts accepted by default.
	DefaultTrustedDomains = []string{"res.cloudinary.com", "sokoyetu.africa", "localhost"}
	DefaultValidUnits     = []string{"kg", "g", "ton", "lb", "bag"}
	DefaultValidCountries = []int64{1, 2, 3}
)
