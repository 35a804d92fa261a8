// Package interpret maps raw model outputs onto the domain results of each
// vertical.
package interpret

import (
	"fmt"
	"slices"
	"strings"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/model"
)

var cropRecommendations = map[string][]string{
	"healthy":            {"Maintain current watering and fertilising schedule"},
	"pest_infected":      {"Inspect leaves for pests and apply integrated pest management", "Remove heavily infested plants"},
	"disease_infected":   {"Isolate affected plants", "Apply a recommended fungicide or bactericide"},
	"nutrient_deficient": {"Apply organic fertilizer", "Test soil nutrient levels"},
	"water_stressed":     {"Increase watering frequency", "Mulch to retain soil moisture"},
}

var defaultCropRecommendations = []string{"Increase watering frequency", "Apply organic fertilizer"}

// CropAnalysis interprets the crop condition and crop type classifications.
//
// The health score is one minus the probability of the predicted
// condition. When expectedTypes is non-empty and the predicted type is not
// among them, the type is reported as a possible mismatch.
func CropAnalysis(condition, cropType model.Classification, expectedTypes []string) domain.CropAnalysis {
	label := condition.Label
	out := domain.CropAnalysis{
		HealthScore:      1 - condition.Confidence(),
		Condition:        label,
		PestDetected:     strings.Contains(label, "pest"),
		DiseaseDetected:  strings.Contains(label, "disease"),
		Confidence:       maxProbability(condition.Probabilities),
		CropType:         cropType.Label,
		CropTypeExpected: true,
	}
	if len(expectedTypes) > 0 && !containsFold(expectedTypes, cropType.Label) {
		out.CropType = fmt.Sprintf("Possibly %s (unexpected for category)", cropType.Label)
		out.CropTypeExpected = false
	}
	if recs, ok := cropRecommendations[label]; ok {
		out.Recommendations = slices.Clone(recs)
	} else {
		out.Recommendations = slices.Clone(defaultCropRecommendations)
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

func maxProbability(p []float64) float64 {
	if len(p) == 0 {
		return 0
	}
	return slices.Max(p)
}
