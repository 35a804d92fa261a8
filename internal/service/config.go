package service

import (
	"time"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/model"
)

// Verticals
const (
	VerticalPrice   = "price"
	VerticalYield   = "yield"
	VerticalCrop    = "crop"
	VerticalGrading = "grading"
)

// ModelNames binds each vertical to a registry model.
type ModelNames struct {
	Price    string
	Yield    string
	Crop     string
	CropType string
	Grade    string
}

// Config holds the tunables of the vertical pipelines.
type Config struct {
	InferenceTimeout  time.Duration
	CropImageSize     int
	GradeImageSize    int
	YieldHistoryYears int
	TrustedDomains    []string
	ValidUnits        []string
	ValidCountries    []int64
	Models            ModelNames
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InferenceTimeout:  common.DefaultInferenceTimeout,
		CropImageSize:     common.DefaultCropImageSize,
		GradeImageSize:    common.DefaultGradeImageSize,
		YieldHistoryYears: common.DefaultYieldHistoryYears,
		TrustedDomains:    common.DefaultTrustedDomains,
		ValidUnits:        common.DefaultValidUnits,
		ValidCountries:    common.DefaultValidCountries,
		Models: ModelNames{
			Price:    common.ModelPricePredictor,
			Yield:    common.ModelYieldForecaster,
			Crop:     common.ModelCropAnalyzer,
			CropType: common.ModelCropTypeClassifier,
			Grade:    common.ModelProduceGrader,
		},
	}
}

// ModelSpecs declares the models the verticals resolve.
func ModelSpecs(cfg Config) []model.Spec {
	return []model.Spec{
		{
			Name:        cfg.Models.Price,
			Kind:        model.KindRegressor,
			Fields:      features.PriceFields(),
			NonNegative: true,
		},
		{
			Name:        cfg.Models.Yield,
			Kind:        model.KindRegressor,
			Fields:      features.YieldFields(),
			NonNegative: true,
		},
		classifierSpec(cfg.Models.Crop, domain.CropConditions, cfg.CropImageSize),
		classifierSpec(cfg.Models.CropType, domain.CropTypes, cfg.CropImageSize),
		classifierSpec(cfg.Models.Grade, domain.Grades, cfg.GradeImageSize),
	}
}

func classifierSpec(name string, labels []string, size int) model.Spec {
	return model.Spec{
		Name:     name,
		Kind:     model.KindClassifier,
		Labels:   append([]string(nil), labels...),
		Height:   size,
		Width:    size,
		Channels: 3,
		PoolGrid: model.DefaultPoolGrid,
	}
}
