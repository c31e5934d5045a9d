package weather

// ValidateCoordinates reports whether lat is within [-90,90] and lon within [-180,180].
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// QualityInput describes which parts of a provider sample were present.
type QualityInput struct {
	HasTemperatureBlock bool
	Temperature         *float64
	Humidity            *float64
	ConditionText       string
	HasWindBlock        bool
}

// ScoreQuality computes a data quality score in [0,100] for one provider sample.
func ScoreQuality(in QualityInput) int {
	score := 100

	switch {
	case !in.HasTemperatureBlock:
		score -= 30
	case in.Temperature == nil:
		score -= 20
	case *in.Temperature < -60 || *in.Temperature > 60:
		score -= 20
	}

	if in.Humidity == nil {
		score -= 10
	} else if *in.Humidity < 0 || *in.Humidity > 100 {
		score -= 15
	}

	if in.ConditionText == "" {
		score -= 15
	}
	if !in.HasWindBlock {
		score -= 10
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// CropSuitable reports whether the observed conditions fall inside the
// reference growth envelope: 15-35°C and 40-90% relative humidity.
func (o Observation) CropSuitable() bool {
	return o.Temperature >= 15 && o.Temperature <= 35 &&
		o.Humidity >= 40 && o.Humidity <= 90
}
