package formats

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DronePoint is the flattened output shape gathering what the drone
// feeds (ASD, Senhive, Avionix) have in common: one point of one
// journey per row.
type DronePoint struct {
	Time       time.Time `json:"time" parquet:"time"`
	Journey    string    `json:"journey" parquet:"journey"`
	Ident      string    `json:"ident,omitempty" parquet:"ident,optional"`
	Make       string    `json:"make,omitempty" parquet:"make,optional"`
	Model      string    `json:"model,omitempty" parquet:"model,optional"`
	UavType    uint8     `json:"uav_type" parquet:"uav_type"`
	Source     uint8     `json:"source" parquet:"source"`
	Latitude   float64   `json:"latitude" parquet:"latitude"`
	Longitude  float64   `json:"longitude" parquet:"longitude"`
	Altitude   float64   `json:"altitude,omitempty" parquet:"altitude,optional"`
	Elevation  float64   `json:"elevation,omitempty" parquet:"elevation,optional"`
	HomeLat    float64   `json:"home_lat,omitempty" parquet:"home_lat,optional"`
	HomeLon    float64   `json:"home_lon,omitempty" parquet:"home_lon,optional"`
	HomeHeight float64   `json:"home_height,omitempty" parquet:"home_height,optional"`
	Speed      float64   `json:"speed" parquet:"speed"`
	Heading    float64   `json:"heading" parquet:"heading"`
	State      uint8     `json:"state,omitempty" parquet:"state,optional"`
	Station    string    `json:"station_name,omitempty" parquet:"station_name,optional"`
}

// senhivePayload is the part of a Senhive fused-data message we map
// into a DronePoint.
type senhivePayload struct {
	Timestamp time.Time `json:"timestamp"`
	JourneyID string    `json:"journeyId"`
	Vehicle   struct {
		Ident   string `json:"ident"`
		Make    string `json:"make"`
		Model   string `json:"model"`
		UavType uint8  `json:"uavType"`
	} `json:"vehicleIdentification"`
	Location struct {
		Position struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"position"`
		Altitude float64 `json:"altitude"`
		Height   float64 `json:"height"`
	} `json:"location"`
	GroundSpeed float64 `json:"groundSpeed"`
	Heading     float64 `json:"heading"`
	State       uint8   `json:"vehicleState"`
	System      struct {
		FusionState struct {
			SourceSerials []string `json:"source_serials"`
		} `json:"fusion_state"`
	} `json:"system"`
}

// FromSenhive flattens one fused-data message.
func FromSenhive(frame string) (DronePoint, error) {
	var p senhivePayload
	if err := json.Unmarshal([]byte(frame), &p); err != nil {
		return DronePoint{}, fmt.Errorf("decode senhive record: %w", err)
	}
	dp := DronePoint{
		Time:      p.Timestamp,
		Journey:   p.JourneyID,
		Ident:     p.Vehicle.Ident,
		Make:      p.Vehicle.Make,
		Model:     p.Vehicle.Model,
		UavType:   p.Vehicle.UavType,
		Latitude:  p.Location.Position.Latitude,
		Longitude: p.Location.Position.Longitude,
		Altitude:  p.Location.Altitude,
		Elevation: p.Location.Height,
		Speed:     p.GroundSpeed,
		Heading:   p.Heading,
		State:     p.State,
	}
	if len(p.System.FusionState.SourceSerials) > 0 {
		dp.Station = p.System.FusionState.SourceSerials[0]
	}
	return dp, nil
}

// asdPayload is one record of the ASD filtered-locations response.
type asdPayload struct {
	Timestamp  string  `json:"timestamp"`
	Journey    int     `json:"journey"`
	Ident      string  `json:"ident"`
	Model      string  `json:"model"`
	Source     string  `json:"source"`
	Latitude   string  `json:"latitude"`
	Longitude  string  `json:"longitude"`
	Altitude   float64 `json:"altitude"`
	Elevation  float64 `json:"elevation"`
	HomeLat    string  `json:"home_lat"`
	HomeLon    string  `json:"home_lon"`
	HomeHeight float64 `json:"home_distance"`
	Speed      float64 `json:"speed"`
	Heading    float64 `json:"heading"`
	Station    string  `json:"station_name"`
}

// FromAsd flattens one ASD journey record. ASD encodes positions as
// strings.
func FromAsd(frame string) (DronePoint, error) {
	var p asdPayload
	if err := json.Unmarshal([]byte(frame), &p); err != nil {
		return DronePoint{}, fmt.Errorf("decode asd record: %w", err)
	}

	ts, err := time.Parse("2006-01-02 15:04:05", p.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			return DronePoint{}, fmt.Errorf("decode asd timestamp %q: %w", p.Timestamp, err)
		}
	}

	lat, _ := strconv.ParseFloat(p.Latitude, 64)
	lon, _ := strconv.ParseFloat(p.Longitude, 64)
	hlat, _ := strconv.ParseFloat(p.HomeLat, 64)
	hlon, _ := strconv.ParseFloat(p.HomeLon, 64)

	return DronePoint{
		Time:       ts.UTC(),
		Journey:    strconv.Itoa(p.Journey),
		Ident:      p.Ident,
		Model:      p.Model,
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   p.Altitude,
		Elevation:  p.Elevation,
		HomeLat:    hlat,
		HomeLon:    hlon,
		HomeHeight: p.HomeHeight,
		Speed:      p.Speed,
		Heading:    p.Heading,
		Station:    p.Station,
	}, nil
}

// CsvHeader is the column list emitted before DronePoint rows.
func (DronePoint) CsvHeader() string {
	return "time,journey,ident,make,model,uav_type,source,latitude,longitude,altitude,elevation,home_lat,home_lon,home_height,speed,heading,state,station_name"
}

// Csv renders one row.
func (d DronePoint) Csv() string {
	fields := []string{
		d.Time.UTC().Format(time.RFC3339),
		d.Journey,
		d.Ident,
		d.Make,
		d.Model,
		strconv.Itoa(int(d.UavType)),
		strconv.Itoa(int(d.Source)),
		strconv.FormatFloat(d.Latitude, 'f', -1, 64),
		strconv.FormatFloat(d.Longitude, 'f', -1, 64),
		strconv.FormatFloat(d.Altitude, 'f', -1, 64),
		strconv.FormatFloat(d.Elevation, 'f', -1, 64),
		strconv.FormatFloat(d.HomeLat, 'f', -1, 64),
		strconv.FormatFloat(d.HomeLon, 'f', -1, 64),
		strconv.FormatFloat(d.HomeHeight, 'f', -1, 64),
		strconv.FormatFloat(d.Speed, 'f', -1, 64),
		strconv.FormatFloat(d.Heading, 'f', -1, 64),
		strconv.Itoa(int(d.State)),
		d.Station,
	}
	return strings.Join(fields, ",")
}
