package location

import (
	"sort"
	"strings"

	"github.com/i474232898/agro-weather/internal/weather"
)

const (
	// coverageBufferKm is added to half the widest pairwise distance of a group.
	coverageBufferKm = 5.0
	// defaultCoverageKm is the radius of a single-location group.
	defaultCoverageKm = 10.0
)

// ClusterMonitoringPoints groups locations by (country, region) and returns one
// monitoring point per group, ordered by group key. Input is not modified.
func ClusterMonitoringPoints(locs []weather.WeatherLocation) []weather.MonitoringPoint {
	groups := make(map[string][]weather.WeatherLocation)
	for _, l := range locs {
		k := groupKey(l)
		groups[k] = append(groups[k], l)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := make([]weather.MonitoringPoint, 0, len(keys))
	for _, k := range keys {
		points = append(points, buildPoint(k, groups[k]))
	}
	return points
}

func groupKey(l weather.WeatherLocation) string {
	return strings.ToUpper(l.Country) + "/" + strings.ToLower(strings.TrimSpace(l.Region))
}

func buildPoint(key string, members []weather.WeatherLocation) weather.MonitoringPoint {
	var sumLat, sumLon float64
	ids := make([]string, 0, len(members))
	for _, m := range members {
		sumLat += m.Latitude
		sumLon += m.Longitude
		ids = append(ids, m.ID)
	}
	n := float64(len(members))

	radius := defaultCoverageKm
	if len(members) > 1 {
		var maxDist float64
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				d := HaversineKm(members[i].Latitude, members[i].Longitude, members[j].Latitude, members[j].Longitude)
				if d > maxDist {
					maxDist = d
				}
			}
		}
		radius = maxDist/2 + coverageBufferKm
	}

	return weather.MonitoringPoint{
		ID:               key,
		Country:          strings.ToUpper(members[0].Country),
		Region:           members[0].Region,
		Latitude:         sumLat / n,
		Longitude:        sumLon / n,
		LocationIDs:      ids,
		CoverageRadiusKm: radius,
	}
}
