// Package formats carries the format tags, record shapes and codecs
// used to normalize provider records into the output shapes (flattened
// drone points, pseudo-Asterix CAT21 rows) and to serialize them into
// containers (CSV, Parquet).
package formats

import (
	"fmt"
	"sort"
)

// Format identifies a wire or record format.
type Format string

const (
	None      Format = "none"
	Aeroscope Format = "aeroscope" // DJI Aeroscope drone data
	Asd       Format = "asd"       // consolidated drone data from airspacedrone.com
	CubeData  Format = "cubedata"  // Aero Network JSON by Avionix
	Opensky   Format = "opensky"   // ADS-B state vectors from the Opensky API
	Senhive   Format = "senhive"   // Thales Senhive fused drone data
	// JsonX is a generic one-object-per-line JSON input with no
	// provider schema attached.
	JsonX Format = "jsonx"

	// Output shapes.
	Cat21     Format = "cat21"      // pseudo-Asterix CAT21 flattened rows
	DronePlot Format = "dronepoint" // flattened drone points
	Csv       Format = "csv"        // plain CSV rows
)

// DType tags the data family a format belongs to.
type DType string

const (
	DTypeDrone DType = "drone"
	DTypeAdsb  DType = "adsb"
	DTypeAny   DType = "any"
)

// Descr documents one supported format.
type Descr struct {
	Name        Format
	DType       DType
	Description string
	Source      string
	URL         string
}

var registry = map[Format]Descr{
	Aeroscope: {Aeroscope, DTypeDrone, "DJI Aeroscope-specific data", "DJI", "https://www.dji.com/"},
	Asd:       {Asd, DTypeDrone, "Consolidated drone data", "ASD", "https://airspacedrone.com/"},
	CubeData:  {CubeData, DTypeDrone, "Aero Network JSON by Avionix", "Avionix", "https://www.avionix.eu/"},
	Opensky:   {Opensky, DTypeAdsb, "ADS-B state vectors", "Opensky", "https://opensky-network.org/"},
	Senhive:   {Senhive, DTypeDrone, "Thales Senhive fused track data", "Thales", "https://www.thalesgroup.com/"},
	JsonX:     {JsonX, DTypeAny, "Generic JSON lines", "", ""},
	Cat21:     {Cat21, DTypeAdsb, "Pseudo-Asterix CAT21 flattened CSV", "ECTL", "https://www.eurocontrol.int/asterix"},
	DronePlot: {DronePlot, DTypeDrone, "Flattened drone points", "", ""},
	Csv:       {Csv, DTypeAny, "Plain CSV rows", "", ""},
}

// Lookup returns the descriptor for a format tag.
func Lookup(name string) (Descr, error) {
	d, ok := registry[Format(name)]
	if !ok {
		return Descr{}, fmt.Errorf("unknown format: %s", name)
	}
	return d, nil
}

// List returns every known format, sorted by name.
func List() []Descr {
	out := make([]Descr, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
