// Package domain holds the request, context and result types shared by the
// feature builders, interpreters and vertical services.
package domain

// Crop conditions predicted by the crop analyzer, in output order.
var CropConditions = []string{
	"healthy",
	"pest_infected",
	"disease_infected",
	"nutrient_deficient",
	"water_stressed",
}

// CropTypes predicted by the crop type classifier, in output order.
// Category ids 1..5 map onto these.
var CropTypes = []string{"Maize", "Wheat", "Tomato", "Potato", "Beans"}

// Grades is the five-level produce scale, best first.
var Grades = []string{"A", "B", "C", "D", "E"}

// Seasons are the closed season vocabulary of the price model.
var Seasons = []string{"dry", "rainy", "unknown"}

// CropTypeForCategory maps a category id onto its crop type name.
func CropTypeForCategory(categoryID int64) (string, bool) {
	if categoryID < 1 || int(categoryID) > len(CropTypes) {
		return "", false
	}
	return CropTypes[categoryID-1], true
}
