package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"homeguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap flattens one decoded object. Nested values are kept as
// their printed form in Extras.
func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	fillFields(fields, fields.Extras)
	return fields
}

func fillFields(fields *normalize.EventFields, m map[string]string) {
	fields.ID = firstNonEmpty(m, "id", "event_id")
	fields.Source = firstNonEmpty(m, "source")
	fields.Kind = firstNonEmpty(m, "kind", "type", "label", "class")
	fields.Confidence = firstNonEmpty(m, "confidence", "score")
	fields.Timestamp = firstNonEmpty(m, "timestamp", "time", "ts")
	fields.DeviceID = firstNonEmpty(m, "device_id", "device", "camera_id", "sensor_id")
	fields.ProfileID = firstNonEmpty(m, "profile_id", "face_id")
}
