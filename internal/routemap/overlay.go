// Package routemap turns a convoy route, its checkpoints and nearby danger zones into a
// styled GeoJSON overlay with bounds fitted to every marker.
package routemap

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// Feature kinds written to the "kind" property.
const (
	KindStart        = "start"
	KindEnd          = "end"
	KindRoute        = "route"
	KindDangerZone   = "danger_zone"
	KindDangerMarker = "danger_marker"
	KindCheckpoint   = "checkpoint"
)

const (
	colorStart           = "green"
	colorEnd             = "red"
	colorRoute           = "blue"
	colorClosed          = "red"
	colorCongested       = "yellow"
	colorCheckpoint      = "blue"
	defaultRadiusMeters  = 500
	boundsPaddingRatio   = 0.1
	minimumBoundsPadding = 0.01
)

var riskColors = map[string]string{
	"high":   "red",
	"medium": "orange",
	"low":    "yellow",
}

var checkpointTypeColors = map[string]string{
	"military": "darkgreen",
	"police":   "blue",
	"toll":     "purple",
	"border":   "cadetblue",
	"rest":     "green",
	"fuel":     "orange",
	"medical":  "pink",
}

// ErrInvalidOverlay reports input that cannot be drawn.
var ErrInvalidOverlay = errors.New("routemap: invalid overlay input")

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func (p Point) validate(label string) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: %s coordinates out of range", ErrInvalidOverlay, label)
	}
	return nil
}

// Checkpoint is a point of interest along the route with an operational status.
type Checkpoint struct {
	Name     string
	Type     string
	Status   string
	Position Point
}

// DangerZone is a circular risk area.
type DangerZone struct {
	Name         string
	Description  string
	RiskLevel    string
	RadiusMeters float64
	Center       Point
}

// Input is everything the overlay is drawn from.
type Input struct {
	Route       []Point
	Start       *Point
	End         *Point
	Checkpoints []Checkpoint
	DangerZones []DangerZone
}

// Overlay is the drawable result. Bounds is nil when there are no markers.
type Overlay struct {
	Features *geojson.FeatureCollection
	Bounds   *orb.Bound
}

// LeafletBounds returns the bounds as [[south, west], [north, east]].
func (o Overlay) LeafletBounds() [][2]float64 {
	if o.Bounds == nil {
		return nil
	}
	return [][2]float64{
		{o.Bounds.Min.Lat(), o.Bounds.Min.Lon()},
		{o.Bounds.Max.Lat(), o.Bounds.Max.Lon()},
	}
}

// Build draws the overlay. Every call re-fits the bounds to the markers in input.
func Build(input Input) (Overlay, error) {
	if input.Start == nil || input.End == nil {
		return Overlay{}, fmt.Errorf("%w: start and end are required", ErrInvalidOverlay)
	}
	if err := input.Start.validate("start"); err != nil {
		return Overlay{}, err
	}
	if err := input.End.validate("end"); err != nil {
		return Overlay{}, err
	}

	collection := geojson.NewFeatureCollection()
	markers := make([]orb.Point, 0, 2+len(input.Checkpoints)+len(input.DangerZones))

	start := newMarker(KindStart, *input.Start, colorStart, fmt.Sprintf("Start\n%s", formatPoint(*input.Start)))
	end := newMarker(KindEnd, *input.End, colorEnd, fmt.Sprintf("Destination\n%s", formatPoint(*input.End)))
	collection.Append(start)
	collection.Append(end)
	markers = append(markers, input.Start.orb(), input.End.orb())

	if len(input.Route) >= 2 {
		line := make(orb.LineString, 0, len(input.Route))
		for index, point := range input.Route {
			if err := point.validate(fmt.Sprintf("route[%d]", index)); err != nil {
				return Overlay{}, err
			}
			line = append(line, point.orb())
		}
		route := geojson.NewFeature(line)
		route.Properties["kind"] = KindRoute
		route.Properties["color"] = colorRoute
		route.Properties["length_m"] = math.Round(geo.LengthHaversine(line))
		collection.Append(route)
	}

	for index, zone := range input.DangerZones {
		if err := zone.Center.validate(fmt.Sprintf("danger_zones[%d]", index)); err != nil {
			return Overlay{}, err
		}
		color, ok := RiskColor(zone.RiskLevel)
		if !ok {
			return Overlay{}, fmt.Errorf("%w: danger_zones[%d] has unknown risk level %q", ErrInvalidOverlay, index, zone.RiskLevel)
		}
		radius := zone.RadiusMeters
		if radius <= 0 {
			radius = defaultRadiusMeters
		}
		popup := dangerZonePopup(zone, radius)

		circle := geojson.NewFeature(zone.Center.orb())
		circle.Properties["kind"] = KindDangerZone
		circle.Properties["shape"] = "circle"
		circle.Properties["radius_m"] = radius
		circle.Properties["color"] = color
		circle.Properties["risk_level"] = normalizeKey(zone.RiskLevel)
		collection.Append(circle)

		marker := newMarker(KindDangerMarker, zone.Center, color, popup)
		marker.Properties["risk_level"] = normalizeKey(zone.RiskLevel)
		collection.Append(marker)
		markers = append(markers, zone.Center.orb())
	}

	for index, checkpoint := range input.Checkpoints {
		if err := checkpoint.Position.validate(fmt.Sprintf("checkpoints[%d]", index)); err != nil {
			return Overlay{}, err
		}
		marker := newMarker(KindCheckpoint, checkpoint.Position, CheckpointColor(checkpoint.Type, checkpoint.Status), checkpointPopup(checkpoint))
		marker.Properties["checkpoint_type"] = normalizeKey(checkpoint.Type)
		marker.Properties["status"] = normalizeKey(checkpoint.Status)
		collection.Append(marker)
		markers = append(markers, checkpoint.Position.orb())
	}

	overlay := Overlay{Features: collection}
	if bound, ok := fitBounds(markers); ok {
		overlay.Bounds = &bound
		collection.BBox = geojson.NewBBox(bound)
	}
	return overlay, nil
}

// RiskColor maps a danger zone risk level to its colour.
func RiskColor(level string) (string, bool) {
	color, ok := riskColors[normalizeKey(level)]
	return color, ok
}

// CheckpointColor picks the checkpoint colour; a closed or congested status overrides the type colour.
func CheckpointColor(checkpointType, status string) string {
	switch normalizeKey(status) {
	case "closed":
		return colorClosed
	case "congested":
		return colorCongested
	}
	if color, ok := checkpointTypeColors[normalizeKey(checkpointType)]; ok {
		return color
	}
	return colorCheckpoint
}

func fitBounds(points []orb.Point) (orb.Bound, bool) {
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	bound := points[0].Bound()
	for _, point := range points[1:] {
		bound = bound.Extend(point)
	}
	padding := math.Max(bound.Right()-bound.Left(), bound.Top()-bound.Bottom()) * boundsPaddingRatio
	if padding < minimumBoundsPadding {
		padding = minimumBoundsPadding
	}
	return bound.Pad(padding), true
}

func newMarker(kind string, point Point, color, popup string) *geojson.Feature {
	feature := geojson.NewFeature(point.orb())
	feature.Properties["kind"] = kind
	feature.Properties["color"] = color
	feature.Properties["popup"] = popup
	return feature
}

func checkpointPopup(checkpoint Checkpoint) string {
	lines := []string{displayName(checkpoint.Name, "Checkpoint")}
	if checkpoint.Type != "" {
		lines = append(lines, "Type: "+normalizeKey(checkpoint.Type))
	}
	if checkpoint.Status != "" {
		lines = append(lines, "Status: "+normalizeKey(checkpoint.Status))
	}
	lines = append(lines, formatPoint(checkpoint.Position))
	return strings.Join(lines, "\n")
}

func dangerZonePopup(zone DangerZone, radius float64) string {
	lines := []string{
		displayName(zone.Name, "Danger zone"),
		"Risk: " + normalizeKey(zone.RiskLevel),
		fmt.Sprintf("Radius: %.0f m", radius),
	}
	if description := strings.TrimSpace(zone.Description); description != "" {
		lines = append(lines, description)
	}
	return strings.Join(lines, "\n")
}

func displayName(name, fallback string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallback
}

func formatPoint(point Point) string {
	return fmt.Sprintf("%.5f, %.5f", point.Lat, point.Lon)
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
