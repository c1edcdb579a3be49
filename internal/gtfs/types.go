package gtfs

// RouteType is the GTFS routes.txt route_type, including the extended
// (Google) hierarchical values.
type RouteType int

const (
	Tram   RouteType = 0
	Subway RouteType = 1
	Rail   RouteType = 2
	Bus    RouteType = 3
	Ferry  RouteType = 4

	// Extended route types.
	RailwayService  RouteType = 100
	SuburbanRailway RouteType = 109
	LastRailwayType RouteType = 117
	UrbanRailway    RouteType = 400
	BusService      RouteType = 700
	TramService     RouteType = 900
)

// IsRail reports whether t is heavy/commuter rail in either the basic or
// the extended route_type scheme.
func (t RouteType) IsRail() bool {
	return t == Rail || (t >= RailwayService && t <= LastRailwayType)
}

// RailTypes lists every route_type IsRail accepts.
func RailTypes() []RouteType {
	types := []RouteType{Rail}
	for t := RailwayService; t <= LastRailwayType; t++ {
		types = append(types, t)
	}
	return types
}

type Route struct {
	RouteID   string
	ShortName string
	Type      RouteType
}
