package weather

import (
	"encoding/json"
	"sort"
	"time"
)

// noonTolerance bounds how far from local noon a sample may be and still
// provide the daily icon and description.
const noonTolerance = 3 * time.Hour

// AggregateDaily groups hourly samples by calendar date and folds each group
// into one daily record. Dates are returned in ascending order; a date with no
// samples never produces a record.
func AggregateDaily(samples []Observation) []Observation {
	groups := make(map[string][]Observation)
	var keys []string

	for _, s := range samples {
		k := s.Timestamp.Format(dateLayout)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}
	sort.Strings(keys)

	daily := make([]Observation, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		if len(group) == 0 {
			continue
		}
		daily = append(daily, aggregateGroup(group))
	}
	return daily
}

// aggregateGroup combines the samples of a single date. Temperature, humidity and
// wind are averaged, rainfall summed, and the condition selected by majority
// with ties going to the earliest sample.
func aggregateGroup(group []Observation) Observation {
	first := group[0]

	var (
		sumTemp     float64
		sumHumidity float64
		sumWind     float64
		sumPressure float64
		sumRain     float64
		sumSnow     float64
		maxPrecipP  float64
		maxGust     float64
		minTemp     = first.Temperature
		maxTemp     = first.Temperature
		bestQuality = first.QualityScore
	)

	conditionCounts := make(map[Condition]int)
	var conditionOrder []Condition

	for _, s := range group {
		sumTemp += s.Temperature
		sumHumidity += s.Humidity
		sumWind += s.WindSpeed
		sumPressure += s.Pressure
		sumRain += s.Rainfall
		sumSnow += s.Snow

		if s.Temperature < minTemp {
			minTemp = s.Temperature
		}
		if s.Temperature > maxTemp {
			maxTemp = s.Temperature
		}
		if s.PrecipProbability > maxPrecipP {
			maxPrecipP = s.PrecipProbability
		}
		if s.WindGust > maxGust {
			maxGust = s.WindGust
		}
		if s.QualityScore > bestQuality {
			bestQuality = s.QualityScore
		}

		if _, seen := conditionCounts[s.Condition]; !seen {
			conditionOrder = append(conditionOrder, s.Condition)
		}
		conditionCounts[s.Condition]++
	}

	// Pick majority condition; iterating in first-seen order keeps ties stable.
	bestCond := ConditionUnknown
	bestCount := 0
	for _, cond := range conditionOrder {
		if conditionCounts[cond] > bestCount {
			bestCount = conditionCounts[cond]
			bestCond = cond
		}
	}

	rep := representativeSample(group)
	n := float64(len(group))

	return Observation{
		LocationID:        first.LocationID,
		Provider:          first.Provider,
		DataType:          first.DataType,
		Date:              DateOf(first.Timestamp),
		Timestamp:         DateOf(first.Timestamp),
		Temperature:       sumTemp / n,
		TemperatureMin:    minTemp,
		TemperatureMax:    maxTemp,
		FeelsLike:         rep.FeelsLike,
		Humidity:          sumHumidity / n,
		Pressure:          sumPressure / n,
		WindSpeed:         sumWind / n,
		WindDirection:     rep.WindDirection,
		WindGust:          maxGust,
		Rainfall:          sumRain,
		PrecipProbability: maxPrecipP,
		Snow:              sumSnow,
		Condition:         bestCond,
		Description:       rep.Description,
		Icon:              rep.Icon,
		QualityScore:      bestQuality,
		Raw:               groupRaw(group),
		CreatedAt:         first.CreatedAt,
	}
}

// groupRaw keeps the provider payloads of a date as a JSON array in sample order.
func groupRaw(group []Observation) json.RawMessage {
	payloads := make([]json.RawMessage, 0, len(group))
	found := false
	for _, s := range group {
		if len(s.Raw) > 0 {
			found = true
			payloads = append(payloads, s.Raw)
		} else {
			payloads = append(payloads, json.RawMessage("null"))
		}
	}
	if !found {
		return nil
	}
	b, err := json.Marshal(payloads)
	if err != nil {
		return nil
	}
	return b
}

// representativeSample returns the sample closest to local noon, or the middle
// sample when none lies within noonTolerance.
func representativeSample(group []Observation) Observation {
	best := -1
	var bestDelta time.Duration
	for i, s := range group {
		t := s.Timestamp
		noon := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, t.Location())
		delta := t.Sub(noon)
		if delta < 0 {
			delta = -delta
		}
		if delta > noonTolerance {
			continue
		}
		if best < 0 || delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	if best < 0 {
		best = len(group) / 2
	}
	return group[best]
}
