package formats

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonToCsvSingleField(t *testing.T) {
	fn, err := Converter(JsonX, Csv)
	require.NoError(t, err)

	out, err := fn(`{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}

func TestJsonToCsvKeyOrder(t *testing.T) {
	fn, err := Converter(JsonX, Csv)
	require.NoError(t, err)

	out, err := fn(`{"b":"two","a":1,"c":true}`)
	require.NoError(t, err)
	assert.Equal(t, "1,two,true", out)
}

func TestJsonToCsvArray(t *testing.T) {
	fn, err := Converter(JsonX, Csv)
	require.NoError(t, err)

	out, err := fn(`[{"x":1},{"x":2}]`)
	require.NoError(t, err)
	assert.Equal(t, "1\n2", out)
}

func TestUnknownConversion(t *testing.T) {
	_, err := Converter(Aeroscope, Cat21)
	assert.ErrorIs(t, err, ErrUnknownConversion)
}

func TestOpenskyToCat21(t *testing.T) {
	fn, err := Converter(Opensky, Cat21)
	require.NoError(t, err)

	frame := `{"time":1700000000,"states":[["3c6444","DLH9LF  ","Germany",1700000000,1700000000,6.1234,50.5678,3000.0,false,220.5,90.0,0.0,null,3100.0,"1000",false,0]]}`
	out, err := fn(frame)
	require.NoError(t, err)

	fields := strings.Split(out, ",")
	require.Len(t, fields, 34)
	assert.Equal(t, "8", fields[0])        // SAC
	assert.Equal(t, "200", fields[1])      // SIC
	assert.Equal(t, "50.5678", fields[3])  // latitude
	assert.Equal(t, "6.1234", fields[4])   // longitude
	assert.Equal(t, "DLH9LF", fields[30])  // callsign, trimmed
	assert.Equal(t, "1", fields[33])       // rec_num
}

func TestSenhiveToDronePoint(t *testing.T) {
	fn, err := Converter(Senhive, DronePlot)
	require.NoError(t, err)

	frame := `{"timestamp":"2024-05-01T10:00:00Z","journeyId":"j-1","vehicleIdentification":{"ident":"UAV1","make":"DJI","model":"M300","uavType":2},"location":{"position":{"latitude":50.1,"longitude":4.2},"altitude":120.0,"height":80.0},"groundSpeed":12.5,"heading":270.0,"vehicleState":2}`
	out, err := fn(frame)
	require.NoError(t, err)

	fields := strings.Split(out, ",")
	assert.Equal(t, "2024-05-01T10:00:00Z", fields[0])
	assert.Equal(t, "j-1", fields[1])
	assert.Equal(t, "UAV1", fields[2])
	assert.Equal(t, "50.1", fields[7])
}

func TestFormatRegistry(t *testing.T) {
	d, err := Lookup("opensky")
	require.NoError(t, err)
	assert.Equal(t, DTypeAdsb, d.DType)

	_, err = Lookup("sbs1")
	assert.Error(t, err)

	all := List()
	assert.NotEmpty(t, all)
}

func TestCsvSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSink(ContainerCSV, Csv, &buf)
	require.NoError(t, err)

	require.NoError(t, s.Write("A"))
	require.NoError(t, s.Write("B\n"))
	require.NoError(t, s.Close())
	assert.Equal(t, "A\nB\n", buf.String())
}

func TestParquetSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSink(ContainerParquet, DronePlot, &buf)
	require.NoError(t, err)

	frame := `{"time":"2024-05-01T10:00:00Z","journey":"j-1","latitude":50.1,"longitude":4.2,"speed":3,"heading":90}`
	require.NoError(t, s.Write(frame))
	require.NoError(t, s.Close())

	assert.NotZero(t, buf.Len())
	// parquet magic bytes
	assert.Equal(t, "PAR1", buf.String()[:4])
}

func TestParquetSinkNoSchema(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewSink(ContainerParquet, JsonX, &buf)
	assert.Error(t, err)
}
