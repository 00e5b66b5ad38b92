package formats

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Default SAC/SIC for generated records.
const (
	DefSAC = 8
	DefSIC = 200
)

// StateList is the Opensky `/states` response: `time` doubles as both
// timestamp and index, `states` is one array per aircraft.
type StateList struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// ParseStateList decodes one Opensky response.
func ParseStateList(frame string) (StateList, error) {
	var sl StateList
	if err := json.Unmarshal([]byte(frame), &sl); err != nil {
		return StateList{}, fmt.Errorf("decode opensky response: %w", err)
	}
	return sl, nil
}

// Cat21Row is the pseudo-CAT21 flattened row. Most of the boolean fields
// carry fixed values: UAS records are not as complete as real ADS-B
// CAT21 data.
type Cat21Row struct {
	Sac                  int     `json:"sac" parquet:"sac"`
	Sic                  int     `json:"sic" parquet:"sic"`
	AltGeoFt             int     `json:"alt_geo_ft" parquet:"alt_geo_ft"`
	PosLatDeg            float64 `json:"pos_lat_deg" parquet:"pos_lat_deg"`
	PosLongDeg           float64 `json:"pos_long_deg" parquet:"pos_long_deg"`
	AltBaroFt            int     `json:"alt_baro_ft" parquet:"alt_baro_ft"`
	Tod                  int64   `json:"tod" parquet:"tod"`
	RecTimePosix         int64   `json:"rec_time_posix" parquet:"rec_time_posix"`
	RecTimeMs            int     `json:"rec_time_ms" parquet:"rec_time_ms"`
	EmitterCategory      int     `json:"emitter_category" parquet:"emitter_category"`
	DifferentialCorr     string  `json:"differential_correction" parquet:"differential_correction"`
	GroundBit            string  `json:"ground_bit" parquet:"ground_bit"`
	SimulatedTarget      string  `json:"simulated_target" parquet:"simulated_target"`
	TestTarget           string  `json:"test_target" parquet:"test_target"`
	FromFt               string  `json:"from_ft" parquet:"from_ft"`
	SelectedAltCapable   string  `json:"selected_alt_capability" parquet:"selected_alt_capability"`
	Spi                  string  `json:"spi" parquet:"spi"`
	LinkTechnologyCddi   string  `json:"link_technology_cddi" parquet:"link_technology_cddi"`
	LinkTechnologyMds    string  `json:"link_technology_mds" parquet:"link_technology_mds"`
	LinkTechnologyUat    string  `json:"link_technology_uat" parquet:"link_technology_uat"`
	LinkTechnologyVdl    string  `json:"link_technology_vdl" parquet:"link_technology_vdl"`
	LinkTechnologyOther  string  `json:"link_technology_other" parquet:"link_technology_other"`
	DescriptorAtp        int     `json:"descriptor_atp" parquet:"descriptor_atp"`
	AltReportingCapable  int     `json:"alt_reporting_capability_ft" parquet:"alt_reporting_capability_ft"`
	TargetAddr           uint32  `json:"target_addr" parquet:"target_addr"`
	Cat                  int     `json:"cat" parquet:"cat"`
	LineID               int     `json:"line_id" parquet:"line_id"`
	DsID                 int     `json:"ds_id" parquet:"ds_id"`
	ReportType           int     `json:"report_type" parquet:"report_type"`
	TodCalculated        string  `json:"tod_calculated" parquet:"tod_calculated"`
	Callsign             string  `json:"callsign" parquet:"callsign"`
	GroundspeedKt        float64 `json:"groundspeed_kt" parquet:"groundspeed_kt"`
	TrackAngleDeg        float64 `json:"track_angle_deg" parquet:"track_angle_deg"`
	RecNum               int     `json:"rec_num" parquet:"rec_num"`
}

const mPerFt = 0.3048
const msToKt = 1.94384

func defaultCat21() Cat21Row {
	return Cat21Row{
		Sac:                 DefSAC,
		Sic:                 DefSIC,
		EmitterCategory:     13,
		DifferentialCorr:    "N",
		GroundBit:           "N",
		SimulatedTarget:     "N",
		TestTarget:          "N",
		FromFt:              "N",
		SelectedAltCapable:  "N",
		Spi:                 "N",
		LinkTechnologyCddi:  "N",
		LinkTechnologyMds:   "N",
		LinkTechnologyUat:   "N",
		LinkTechnologyVdl:   "N",
		LinkTechnologyOther: "N",
		DescriptorAtp:       1,
		AltReportingCapable: 0,
		Cat:                 21,
		LineID:              1,
		DsID:                1,
		ReportType:          3,
		TodCalculated:       "N",
	}
}

func anyFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func anyString(v any) string {
	s, _ := v.(string)
	return s
}

// FromOpensky converts every state vector of one response into Cat21
// rows. Time of day is expressed in 1/128 s units. Record numbering
// starts at recNum and the next free number is returned.
func FromOpensky(sl StateList, recNum int) ([]Cat21Row, int) {
	out := make([]Cat21Row, 0, len(sl.States))
	for _, sv := range sl.States {
		// a state vector has 17 documented positions
		if len(sv) < 14 {
			continue
		}
		row := defaultCat21()
		row.RecTimePosix = sl.Time
		row.Tod = 128 * (sl.Time % 86400)
		row.PosLongDeg = anyFloat(sv[5])
		row.PosLatDeg = anyFloat(sv[6])
		alt := anyFloat(sv[7]) / mPerFt
		row.AltBaroFt = int(alt)
		row.AltGeoFt = int(alt)
		row.GroundspeedKt = anyFloat(sv[9]) * msToKt
		row.TrackAngleDeg = anyFloat(sv[10])
		row.Callsign = strings.TrimSpace(anyString(sv[1]))
		if addr, err := strconv.ParseUint(anyString(sv[0]), 16, 32); err == nil {
			row.TargetAddr = uint32(addr)
		}
		row.RecNum = recNum
		recNum++
		out = append(out, row)
	}
	return out, recNum
}

// CsvHeader is the column list emitted before Cat21 rows.
func (Cat21Row) CsvHeader() string {
	return strings.Join([]string{
		"SAC", "SIC", "ALT_GEO_FT", "POS_LAT_DEG", "POS_LONG_DEG", "ALT_BARO_FT",
		"TOD", "REC_TIME_POSIX", "REC_TIME_MS", "EMITTER_CATEGORY",
		"DIFFERENTIAL_CORRECTION", "GROUND_BIT", "SIMULATED_TARGET", "TEST_TARGET",
		"FROM_FFT", "SELECTED_ALT_CAPABILITY", "SPI", "LINK_TECHNOLOGY_CDTI",
		"LINK_TECHNOLOGY_MDS", "LINK_TECHNOLOGY_UAT", "LINK_TECHNOLOGY_VDL",
		"LINK_TECHNOLOGY_OTHER", "DESCRIPTOR_ATP", "ALT_REPORTING_CAPABILITY_FT",
		"TARGET_ADDR", "CAT", "LINE_ID", "DS_ID", "REPORT_TYPE", "TOD_CALCULATED",
		"CALLSIGN", "GROUNDSPEED_KT", "TRACK_ANGLE_DEG", "REC_NUM",
	}, ",")
}

// Csv renders one row in the column order of CsvHeader.
func (c Cat21Row) Csv() string {
	fields := []string{
		strconv.Itoa(c.Sac),
		strconv.Itoa(c.Sic),
		strconv.Itoa(c.AltGeoFt),
		strconv.FormatFloat(c.PosLatDeg, 'f', -1, 64),
		strconv.FormatFloat(c.PosLongDeg, 'f', -1, 64),
		strconv.Itoa(c.AltBaroFt),
		strconv.FormatInt(c.Tod, 10),
		strconv.FormatInt(c.RecTimePosix, 10),
		strconv.Itoa(c.RecTimeMs),
		strconv.Itoa(c.EmitterCategory),
		c.DifferentialCorr,
		c.GroundBit,
		c.SimulatedTarget,
		c.TestTarget,
		c.FromFt,
		c.SelectedAltCapable,
		c.Spi,
		c.LinkTechnologyCddi,
		c.LinkTechnologyMds,
		c.LinkTechnologyUat,
		c.LinkTechnologyVdl,
		c.LinkTechnologyOther,
		strconv.Itoa(c.DescriptorAtp),
		strconv.Itoa(c.AltReportingCapable),
		strconv.FormatUint(uint64(c.TargetAddr), 10),
		strconv.Itoa(c.Cat),
		strconv.Itoa(c.LineID),
		strconv.Itoa(c.DsID),
		strconv.Itoa(c.ReportType),
		c.TodCalculated,
		c.Callsign,
		strconv.FormatFloat(c.GroundspeedKt, 'f', -1, 64),
		strconv.FormatFloat(c.TrackAngleDeg, 'f', -1, 64),
		strconv.Itoa(c.RecNum),
	}
	return strings.Join(fields, ",")
}
