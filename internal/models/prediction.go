package models

// NotApplicableCrop is the crop value returned for cities that are unknown or not cleared for farming.
const NotApplicableCrop = "N/A"

// Features is the weather reading fed to the crop and fertilizer models.
// Order matters for remote models: temperature, humidity, rainfall.
type Features struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Rainfall    float64 `json:"rainfall"`
}

// Vector returns the features in model input order.
func (f Features) Vector() []float64 {
	return []float64{f.Temperature, f.Humidity, f.Rainfall}
}

// ModelOutput is what the two models produce for a feature vector. Cached as a unit.
type ModelOutput struct {
	Crop       string `json:"crop"`
	Fertilizer string `json:"fertilizer"`
}

// PredictionResult is the /predict response body.
type PredictionResult struct {
	Crop        string   `json:"crop"`
	Fertilizers []string `json:"fertilizers"`
	Pesticides  []string `json:"pesticides"`
}

// Ineligible returns the sentinel result for unknown or non-farming cities.
// Slices are non-nil so they encode as [] rather than null.
func Ineligible() PredictionResult {
	return PredictionResult{
		Crop:        NotApplicableCrop,
		Fertilizers: []string{},
		Pesticides:  []string{},
	}
}

// IsIneligible reports whether r is the sentinel result.
func (r PredictionResult) IsIneligible() bool {
	return r.Crop == NotApplicableCrop && len(r.Fertilizers) == 0 && len(r.Pesticides) == 0
}
