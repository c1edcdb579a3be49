package gtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteType_IsRail(t *testing.T) {
	for _, rt := range []RouteType{Rail, RailwayService, SuburbanRailway, LastRailwayType} {
		assert.True(t, rt.IsRail(), "%d", rt)
	}
	for _, rt := range []RouteType{Tram, Subway, Bus, Ferry, 99, 118, UrbanRailway, BusService} {
		assert.False(t, rt.IsRail(), "%d", rt)
	}
}

func TestRailTypes(t *testing.T) {
	types := RailTypes()
	assert.Len(t, types, 19)
	for _, rt := range types {
		assert.True(t, rt.IsRail())
	}
}
