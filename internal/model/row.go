package model

// Feature is one named value of a FeatureRow. Exactly one of Num or Cat is
// meaningful, selected by Categorical.
type Feature struct {
	Name        string  `json:"name"`
	Num         float64 `json:"num,omitempty"`
	Cat         string  `json:"cat,omitempty"`
	Categorical bool    `json:"categorical,omitempty"`
}

// Num builds a numeric feature.
func Num(name string, v float64) Feature {
	return Feature{Name: name, Num: v}
}

// Cat builds a categorical feature.
func Cat(name, v string) Feature {
	return Feature{Name: name, Cat: v, Categorical: true}
}

// FeatureRow is an ordered set of named features fed to a regressor.
type FeatureRow []Feature

// Get looks a feature up by name.
func (r FeatureRow) Get(name string) (Feature, bool) {
	for _, f := range r {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// Names returns the feature names in row order.
func (r FeatureRow) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Summary flattens the row into a map suitable for a prediction log.
func (r FeatureRow) Summary() map[string]any {
	out := make(map[string]any, len(r))
	for _, f := range r {
		if f.Categorical {
			out[f.Name] = f.Cat
		} else {
			out[f.Name] = f.Num
		}
	}
	return out
}
