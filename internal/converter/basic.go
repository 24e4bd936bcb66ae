package converter

import (
	"zigbee-energy-gateway/internal/calibration"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

// HWVersion copies the Basic cluster hardware version to "hw_version".
type HWVersion struct{}

func (HWVersion) Name() string                  { return "hw_version" }
func (HWVersion) Cluster() uint16               { return clusters.BasicID }
func (HWVersion) Options() []calibration.Option { return nil }

func (HWVersion) Convert(_ *Context, msg Message) Reading {
	v, ok := msg.Attr(clusters.BasicHWVersion)
	if !ok {
		return nil
	}
	return Reading{"hw_version": v.Raw()}
}

// LocationDescription copies the Basic cluster location description to
// "locationDesc".
type LocationDescription struct{}

func (LocationDescription) Name() string                  { return "location_desc" }
func (LocationDescription) Cluster() uint16               { return clusters.BasicID }
func (LocationDescription) Options() []calibration.Option { return nil }

func (LocationDescription) Convert(_ *Context, msg Message) Reading {
	v, ok := msg.Attr(clusters.BasicLocationDescription)
	if !ok {
		return nil
	}
	return Reading{"locationDesc": v.Raw()}
}
