package devicedb

var energyConverters = []string{"electrical_measurement", "metering", "hw_version", "location_desc"}

func power(name, phase string) Expose {
	return Expose{Name: name, Unit: "kW", Description: "Instantaneous measured active power" + phase}
}

func apparent(name, phase string) Expose {
	return Expose{Name: name, Unit: "kVA", Description: "Instantaneous measured apparent power" + phase}
}

func reactive(name, phase string) Expose {
	return Expose{Name: name, Unit: "kVAR", Description: "Instantaneous measured reactive power" + phase}
}

var (
	exposeFrequency = Expose{Name: "ac_frequency", Unit: "Hz", Description: "Measured electrical AC frequency"}
	exposeEnergy    = Expose{Name: "energy", Unit: "kWh", Description: "Total forward active energy"}
	exposeProduced  = Expose{Name: "produced_energy", Unit: "kWh", Description: "Total reverse active energy"}
	exposeHW        = Expose{Name: "hw_version", Description: "Hardware version"}
	exposeLocation  = Expose{Name: "locationDesc", Description: "Location description"}
	exposeAlarm     = Expose{Name: "Alarm", Description: "AC alarm bitmask"}
)

// Builtins returns the definitions of the BITUO single and three-phase meters.
func Builtins() []Definition {
	return []Definition{
		{
			Vendor:       "BITUO TECHNIK",
			Model:        "SPM01X001",
			ZigbeeModels: []string{"SPM01X001"},
			Description:  "Smart energy monitor for 1P+N system",
			Converters:   energyConverters,
			Exposes: []Expose{
				exposeFrequency,
				{Name: "voltage", Unit: "V", Description: "Measured electrical potential value"},
				power("active_power", ""),
				{Name: "current", Unit: "A", Description: "Instantaneous measured electrical current"},
				{Name: "power_factor", Unit: "%", Description: "Instantaneous measured power factor"},
				exposeEnergy, exposeProduced, exposeHW, exposeLocation, exposeAlarm,
			},
		},
		{
			Vendor:       "BITUO TECHNIK",
			Model:        "SPM02X001",
			ZigbeeModels: []string{"SPM02X001"},
			Description:  "Smart energy monitor for 3P+N system",
			Converters:   energyConverters,
			Exposes: []Expose{
				exposeFrequency,
				{Name: "voltage", Unit: "V", Description: "Measured electrical potential value on phase A"},
				{Name: "voltage_phase_b", Unit: "V", Description: "Measured electrical potential value on phase B"},
				{Name: "voltage_phase_c", Unit: "V", Description: "Measured electrical potential value on phase C"},
				power("active_power", ""), power("active_power_phase_b", " on phase B"),
				power("active_power_phase_c", " on phase C"), power("total_active_power", " in total"),
				{Name: "current", Unit: "A", Description: "Instantaneous measured electrical current on phase A"},
				{Name: "current_phase_b", Unit: "A", Description: "Instantaneous measured electrical current on phase B"},
				{Name: "current_phase_c", Unit: "A", Description: "Instantaneous measured electrical current on phase C"},
				{Name: "power_factor", Unit: "%", Description: "Instantaneous measured power factor"},
				{Name: "power_factor_phase_b", Unit: "%", Description: "Instantaneous measured power factor on phase B"},
				{Name: "power_factor_phase_c", Unit: "%", Description: "Instantaneous measured power factor on phase C"},
				reactive("power_reactive", ""), reactive("power_reactive_phase_b", " on phase B"),
				reactive("power_reactive_phase_c", " on phase C"), reactive("total_power_reactive", " in total"),
				apparent("power_apparent", ""), apparent("power_apparent_phase_b", " on phase B"),
				apparent("power_apparent_phase_c", " on phase C"), apparent("total_power_apparent", " in total"),
				exposeEnergy, exposeProduced, exposeHW, exposeLocation, exposeAlarm,
			},
		},
	}
}
