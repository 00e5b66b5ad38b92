package formats

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownConversion = errors.New("unknown conversion")

// ConvertFn reformats one text frame.
type ConvertFn func(frame string) (string, error)

type convKey struct {
	from Format
	into Format
}

var converters map[convKey]ConvertFn

func init() {
	converters = map[convKey]ConvertFn{
		{JsonX, Csv}:          jsonToCsv,
		{Opensky, Cat21}:      openskyToCat21,
		{Senhive, DronePlot}:  senhiveToDronePoint,
		{Asd, DronePlot}:      asdToDronePoint,
		{Senhive, Csv}:        senhiveToDronePoint,
		{Asd, Csv}:            asdToDronePoint,
		{Opensky, Csv}:        openskyToCat21,
	}
}

// Converter looks up the codec for a (from, into) pair.
func Converter(from, into Format) (ConvertFn, error) {
	fn, ok := converters[convKey{from, into}]
	if !ok {
		return nil, fmt.Errorf("%w: %s into %s", ErrUnknownConversion, from, into)
	}
	return fn, nil
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

// jsonToCsv flattens a JSON object (or array of objects) into CSV
// rows, columns in key order.
func jsonToCsv(frame string) (string, error) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		return "", nil
	}

	var objs []map[string]any
	if strings.HasPrefix(frame, "[") {
		if err := json.Unmarshal([]byte(frame), &objs); err != nil {
			return "", fmt.Errorf("decode json frame: %w", err)
		}
	} else {
		var obj map[string]any
		if err := json.Unmarshal([]byte(frame), &obj); err != nil {
			return "", fmt.Errorf("decode json frame: %w", err)
		}
		objs = append(objs, obj)
	}

	var rows []string
	for _, obj := range objs {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, formatScalar(obj[k]))
		}
		rows = append(rows, strings.Join(fields, ","))
	}
	return strings.Join(rows, "\n"), nil
}

func openskyToCat21(frame string) (string, error) {
	sl, err := ParseStateList(frame)
	if err != nil {
		return "", err
	}
	rows, _ := FromOpensky(sl, 1)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Csv())
	}
	return strings.Join(out, "\n"), nil
}

// perLine applies one record conversion to every non-empty line of a
// frame, since streaming sources batch several records per frame.
func perLine(frame string, one func(string) (string, error)) (string, error) {
	var out []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row, err := one(line)
		if err != nil {
			return "", err
		}
		out = append(out, row)
	}
	return strings.Join(out, "\n"), nil
}

func senhiveToDronePoint(frame string) (string, error) {
	return perLine(frame, func(line string) (string, error) {
		dp, err := FromSenhive(line)
		if err != nil {
			return "", err
		}
		return dp.Csv(), nil
	})
}

func asdToDronePoint(frame string) (string, error) {
	return perLine(frame, func(line string) (string, error) {
		dp, err := FromAsd(line)
		if err != nil {
			return "", err
		}
		return dp.Csv(), nil
	})
}
