package vin

import "context"

// Region is the continent a WMI was assigned to.
type Region string

const (
	RegionNorthAmerica Region = "North America"
	RegionSouthAmerica Region = "South America"
	RegionEurope       Region = "Europe"
	RegionAsia         Region = "Asia"
	RegionAfrica       Region = "Africa"
	RegionOceania      Region = "Oceania"
)

// Manufacturer is the result of a WMI lookup. The zero value means unknown.
type Manufacturer struct {
	Name    string `json:"manufacturer,omitempty" yaml:"name"`
	Country string `json:"country,omitempty" yaml:"country"`
	Region  Region `json:"region,omitempty" yaml:"region"`
}

// IsZero reports whether the lookup found nothing.
func (m Manufacturer) IsZero() bool { return m == Manufacturer{} }

// DecodedVehicleInfo is the enrichment produced for a VIN. Well-known fields
// are typed; anything else a provider returns lands in Extras.
type DecodedVehicleInfo struct {
	VIN          string            `json:"vin"`
	Make         string            `json:"make,omitempty"`
	Model        string            `json:"model,omitempty"`
	Year         int               `json:"year,omitempty"`
	Trim         string            `json:"trim,omitempty"`
	Engine       string            `json:"engine,omitempty"`
	BodyClass    string            `json:"bodyClass,omitempty"`
	FuelType     string            `json:"fuelType,omitempty"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Country      string            `json:"country,omitempty"`
	Region       Region            `json:"region,omitempty"`
	Source       string            `json:"source,omitempty"`
	Extras       map[string]string `json:"extras,omitempty"`
}

// Map flattens the info for storage in capture metadata.
func (d DecodedVehicleInfo) Map() map[string]any {
	out := map[string]any{"vin": d.VIN}
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	put("make", d.Make)
	put("model", d.Model)
	put("trim", d.Trim)
	put("engine", d.Engine)
	put("bodyClass", d.BodyClass)
	put("fuelType", d.FuelType)
	put("manufacturer", d.Manufacturer)
	put("country", d.Country)
	put("region", string(d.Region))
	put("source", d.Source)
	if d.Year > 0 {
		out["year"] = d.Year
	}
	for k, v := range d.Extras {
		if _, exists := out[k]; !exists && v != "" {
			out[k] = v
		}
	}
	return out
}

// ModelYear decodes position 10 of a normalized VIN.
func ModelYear(vin string) (int, bool) {
	if len(vin) != Length {
		return 0, false
	}
	return ModelYearCode(rune(vin[9]))
}

// ModelYearCode maps a single model year code to the 2001-2030 cycle.
func ModelYearCode(code rune) (int, bool) {
	year, ok := modelYearCodes[code]
	return year, ok
}

// WMISource resolves a world manufacturer identifier.
type WMISource interface {
	LookupWMI(ctx context.Context, wmi string) (Manufacturer, error)
}

// Table is an in-memory WMISource.
type Table map[string]Manufacturer

// DefaultTable returns a copy of the built-in sample WMI table.
func DefaultTable() Table {
	t := make(Table, len(defaultWMI))
	for k, v := range defaultWMI {
		t[k] = v
	}
	return t
}

// LookupWMI implements WMISource. Unknown prefixes yield the zero Manufacturer.
func (t Table) LookupWMI(_ context.Context, wmi string) (Manufacturer, error) {
	return t[Normalize(wmi)], nil
}

// Position returns the character at a 1-based position, or "".
func Position(vin string, pos int) string {
	if pos < 1 || pos > len(vin) {
		return ""
	}
	return vin[pos-1 : pos]
}

// SerialNumber returns positions 12-17, the production sequence number.
func SerialNumber(vin string) string {
	if len(vin) != Length {
		return ""
	}
	return vin[11:]
}

// PlantCode returns position 11.
func PlantCode(vin string) string {
	return Position(vin, 11)
}
