package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// InsightType classifies a generated insight.
type InsightType string

const (
	InsightIrrigation InsightType = "irrigation"
	InsightPest       InsightType = "pest"
	InsightPlanting   InsightType = "planting"
	InsightHarvest    InsightType = "harvest"
	InsightGeneral    InsightType = "general"
)

// ParseInsightType maps free text onto the closed set of insight types.
func ParseInsightType(s string) (InsightType, bool) {
	switch InsightType(strings.ToLower(strings.TrimSpace(s))) {
	case InsightIrrigation:
		return InsightIrrigation, true
	case InsightPest:
		return InsightPest, true
	case InsightPlanting:
		return InsightPlanting, true
	case InsightHarvest:
		return InsightHarvest, true
	case InsightGeneral:
		return InsightGeneral, true
	default:
		return InsightGeneral, false
	}
}

// fallbackConfidence is assigned to insights that could not be parsed.
const fallbackConfidence = 0.2

// Insight is an agronomic recommendation derived from the weather outlook.
type Insight struct {
	OwnerID         string      `json:"ownerId"`
	Crop            string      `json:"crop"`
	Type            InsightType `json:"type"`
	Summary         string      `json:"summary"`
	Recommendations []string    `json:"recommendations,omitempty"`
	Confidence      float64     `json:"confidence"`
	Degraded        bool        `json:"degraded"`
}

// GenerateInsights builds a prompt from the owner's location and daily forecast
// and asks the insight collaborator for a recommendation. Generator failures
// and unparseable responses degrade to a generic low-confidence insight.
func (s *Service) GenerateInsights(ctx context.Context, ownerID, crop string) (Insight, error) {
	report, err := s.GetWeatherForOwner(ctx, ownerID, crop)
	if err != nil {
		return Insight{}, err
	}
	if s.insights == nil {
		return genericInsight(ownerID, crop), nil
	}

	raw, err := s.insights.Generate(ctx, BuildInsightPrompt(ownerID, crop, report))
	if err != nil {
		slog.Warn("insight generator failed; using generic insight", "owner", ownerID, "error", err)
		return genericInsight(ownerID, crop), nil
	}

	ins, err := ParseInsight(raw)
	if err != nil {
		slog.Warn("insight response not parseable; using generic insight", "owner", ownerID, "error", err)
		return genericInsight(ownerID, crop), nil
	}
	ins.OwnerID = ownerID
	ins.Crop = crop
	return ins, nil
}

// BuildInsightPrompt renders the owner, crop, location and daily weather context.
func BuildInsightPrompt(ownerID, crop string, r Report) string {
	var b strings.Builder
	if crop == "" {
		crop = "unspecified"
	}
	fmt.Fprintf(&b, "You are an agronomy assistant. Give one recommendation for farmer %s growing %s.\n", ownerID, crop)
	fmt.Fprintf(&b, "Location: lat %.4f, lon %.4f, country %s, climate zone %s, agricultural zone %s, crop suitable: %t.\n",
		r.Location.Latitude, r.Location.Longitude, r.Location.Country,
		r.Location.ClimateZone, r.Location.AgriculturalZone, r.Location.CropSuitable)
	b.WriteString("Daily forecast:\n")
	for _, d := range r.Forecast.Daily {
		fmt.Fprintf(&b, "- %s: %.1f°C (min %.1f, max %.1f), humidity %.0f%%, wind %.1f m/s, rain %.1f mm, %s\n",
			d.Date.Format(dateLayout), d.Temperature, d.TemperatureMin, d.TemperatureMax,
			d.Humidity, d.WindSpeed, d.Rainfall, d.Condition)
	}
	b.WriteString(`Answer with JSON only: {"type":"irrigation|pest|planting|harvest|general","summary":"...","recommendations":["..."],"confidence":0.0-1.0}`)
	return b.String()
}

// ParseInsight decodes a collaborator response. JSON wrapped in prose or code
// fences is tolerated; anything else is an error.
func ParseInsight(raw string) (Insight, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Insight{}, fmt.Errorf("no JSON object in response")
	}

	var payload struct {
		Type            string   `json:"type"`
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
		Confidence      *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return Insight{}, fmt.Errorf("decode insight: %w", err)
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return Insight{}, fmt.Errorf("insight summary is empty")
	}

	t, _ := ParseInsightType(payload.Type)
	conf := 0.5
	if payload.Confidence != nil {
		conf = *payload.Confidence
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return Insight{
		Type:            t,
		Summary:         payload.Summary,
		Recommendations: payload.Recommendations,
		Confidence:      conf,
	}, nil
}

func genericInsight(ownerID, crop string) Insight {
	return Insight{
		OwnerID:    ownerID,
		Crop:       crop,
		Type:       InsightGeneral,
		Summary:    "Monitor the forecast and follow standard field practices for the coming days.",
		Confidence: fallbackConfidence,
		Degraded:   true,
	}
}
