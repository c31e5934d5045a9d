package location

import (
	"math"
	"strings"
)

type centroid struct {
	Name string
	Lat  float64
	Lon  float64
}

// countryCentroids is the fallback table used when geocoding fails.
var countryCentroids = map[string]centroid{
	"BG": {"Bulgaria", 42.7339, 25.4858},
	"RO": {"Romania", 45.9432, 24.9668},
	"GR": {"Greece", 39.0742, 21.8243},
	"TR": {"Turkey", 38.9637, 35.2433},
	"RS": {"Serbia", 44.0165, 21.0059},
	"MK": {"North Macedonia", 41.6086, 21.7453},
	"DE": {"Germany", 51.1657, 10.4515},
	"FR": {"France", 46.2276, 2.2137},
	"ES": {"Spain", 40.4637, -3.7492},
	"IT": {"Italy", 41.8719, 12.5674},
	"PT": {"Portugal", 39.3999, -8.2245},
	"NL": {"Netherlands", 52.1326, 5.2913},
	"PL": {"Poland", 51.9194, 19.1451},
	"GB": {"United Kingdom", 55.3781, -3.4360},
	"NO": {"Norway", 60.4720, 8.4689},
	"US": {"United States", 37.0902, -95.7129},
	"MX": {"Mexico", 23.6345, -102.5528},
	"BR": {"Brazil", -14.2350, -51.9253},
	"IN": {"India", 20.5937, 78.9629},
	"PK": {"Pakistan", 30.3753, 69.3451},
	"EG": {"Egypt", 26.8206, 30.8025},
	"KE": {"Kenya", -0.0236, 37.9062},
	"NG": {"Nigeria", 9.0820, 8.6753},
	"ZA": {"South Africa", -30.5595, 22.9375},
	"AU": {"Australia", -25.2744, 133.7751},
	"PH": {"Philippines", 12.8797, 121.7740},
	"TH": {"Thailand", 15.8700, 100.9925},
	"IL": {"Israel", 31.0461, 34.8516},
}

// defaultCentroidCode is used for countries missing from the centroid table.
const defaultCentroidCode = "BG"

// climateZones maps a country to its dominant climate zone.
var climateZones = map[string]string{
	"BG": "continental", "RO": "continental", "RS": "continental", "PL": "continental", "MK": "continental",
	"GR": "mediterranean", "IT": "mediterranean", "ES": "mediterranean", "PT": "mediterranean",
	"TR": "mediterranean", "IL": "mediterranean",
	"DE": "temperate", "FR": "temperate", "NL": "temperate", "GB": "temperate", "US": "temperate",
	"NO": "subarctic",
	"EG": "arid", "PK": "arid", "AU": "arid", "ZA": "semi-arid", "MX": "semi-arid",
	"IN": "tropical", "BR": "tropical", "KE": "tropical", "NG": "tropical", "PH": "tropical", "TH": "tropical",
}

const defaultClimateZone = "temperate"

// Agricultural zones by absolute latitude band.
const (
	ZonePolar       = "polar"
	ZoneCold        = "cold"
	ZoneTemperate   = "temperate"
	ZoneSubtropical = "subtropical"
	ZoneTropical    = "tropical"
)

// cropAllowList holds countries with established cultivation of the reference crop.
var cropAllowList = map[string]bool{
	"BG": true, "GR": true, "ES": true, "IT": true, "PT": true, "TR": true, "IL": true,
	"EG": true, "IN": true, "PK": true, "MX": true, "BR": true, "KE": true,
	"PH": true, "TH": true, "AU": true, "ZA": true, "NG": true, "US": true,
}

// CountryCentroid returns the centroid for a country code, falling back to
// the default centroid when the country is unknown.
func CountryCentroid(country string) (lat, lon float64) {
	c, ok := countryCentroids[strings.ToUpper(country)]
	if !ok {
		c = countryCentroids[defaultCentroidCode]
	}
	return c.Lat, c.Lon
}

// CountryCode maps a country name (as returned by reverse geocoding) or code
// to an ISO code. Unknown names return "".
func CountryCode(nameOrCode string) string {
	s := strings.TrimSpace(nameOrCode)
	if _, ok := countryCentroids[strings.ToUpper(s)]; ok {
		return strings.ToUpper(s)
	}
	for code, c := range countryCentroids {
		if strings.EqualFold(c.Name, s) {
			return code
		}
	}
	return ""
}

// ClimateZone looks up the climate zone for a country code.
func ClimateZone(country string) string {
	if z, ok := climateZones[strings.ToUpper(country)]; ok {
		return z
	}
	return defaultClimateZone
}

// AgriculturalZone classifies a latitude into a band; southern bands mirror northern ones.
func AgriculturalZone(lat float64) string {
	a := math.Abs(lat)
	switch {
	case a > 60:
		return ZonePolar
	case a > 50:
		return ZoneCold
	case a > 40:
		return ZoneTemperate
	case a > 20:
		return ZoneSubtropical
	default:
		return ZoneTropical
	}
}

// CropSuitable reports whether a location can host the reference crop:
// anywhere in an allow-listed country, or elsewhere within the 37° band.
func CropSuitable(lat float64, country string) bool {
	if cropAllowList[strings.ToUpper(country)] {
		return true
	}
	return lat >= -37 && lat <= 37
}
