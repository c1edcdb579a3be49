package route

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/gtfs"
)

// Rules lists the transport modes this feed does not carry.
type Rules struct {
	// ExcludedRoutePatterns match against the internal (un-normalized) route code.
	ExcludedRoutePatterns []string `yaml:"excludedRoutePatterns" validate:"dive,required"`
	// ExcludedRouteTypes are GTFS route_type values resolved through a RouteTypes catalog.
	ExcludedRouteTypes []int `yaml:"excludedRouteTypes" validate:"dive,gte=0"`
}

// DefaultRules excludes commuter rail: Jore codes 3001/3002 and the GTFS rail types.
func DefaultRules() Rules {
	var types []int
	for _, t := range gtfs.RailTypes() {
		types = append(types, int(t))
	}
	return Rules{
		ExcludedRoutePatterns: []string{`^300[12]`},
		ExcludedRouteTypes:    types,
	}
}

// LoadRules reads a YAML rules file. An empty path returns DefaultRules.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := validator.New().Struct(r); err != nil {
		return Rules{}, fmt.Errorf("validate rules %s: %w", path, err)
	}
	return r, nil
}

// RouteTypes resolves a public route id to its GTFS route_type.
type RouteTypes interface {
	RouteType(routeID string) (int, bool)
}

// Filter decides whether an event may produce feed output.
type Filter struct {
	patterns []*regexp.Regexp
	types    map[int]struct{}
	catalog  RouteTypes
	log      *slog.Logger
}

// NewFilter compiles rules. catalog may be nil.
func NewFilter(rules Rules, catalog RouteTypes, log *slog.Logger) (*Filter, error) {
	if log == nil {
		log = slog.Default()
	}
	f := &Filter{
		types:   make(map[int]struct{}, len(rules.ExcludedRouteTypes)),
		catalog: catalog,
		log:     log,
	}
	for _, p := range rules.ExcludedRoutePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("excluded route pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	for _, t := range rules.ExcludedRouteTypes {
		f.types[t] = struct{}{}
	}
	return f, nil
}

// Excluded reports whether the route belongs to a transport mode the feed
// does not carry.
func (f *Filter) Excluded(routeID string) bool {
	for _, re := range f.patterns {
		if re.MatchString(routeID) {
			return true
		}
	}
	if f.catalog != nil {
		if t, ok := f.catalog.RouteType(Normalize(routeID)); ok {
			if _, excluded := f.types[t]; excluded {
				return true
			}
		}
	}
	return false
}

// Eligible rejects excluded routes and invalid directions.
func (f *Filter) Eligible(ev events.Event) bool {
	_, rejected := f.Reject(ev)
	return !rejected
}

const (
	ReasonExcludedRoute    = "excluded_route"
	ReasonInvalidDirection = "invalid_direction"
)

// Reject is Eligible with the reason for a rejection.
func (f *Filter) Reject(ev events.Event) (string, bool) {
	if f.Excluded(ev.Route()) {
		f.log.Debug("filtered excluded route",
			slog.String("trip", ev.Trip().String()),
			slog.String("route", ev.Route()),
		)
		return ReasonExcludedRoute, true
	}
	if _, ok := ToFeedDirection(ev.JoreDirection()); !ok {
		f.log.Debug("filtered invalid direction",
			slog.String("trip", ev.Trip().String()),
			slog.Int("direction", ev.JoreDirection()),
		)
		return ReasonInvalidDirection, true
	}
	return "", false
}
