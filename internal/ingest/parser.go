package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"homeguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
)

// Parser reads line-oriented event feeds: JSON objects, key=value lines and
// CSV with an optional header row. One Parser per stream, since the CSV
// header is remembered.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.EventFields, error) {
	return ParseJSONBytes([]byte(line))
}

// parsePlain reads "[timestamp] [kind] key=value ..." lines. Quoted values
// may contain spaces.
func parsePlain(line string) (*normalize.EventFields, error) {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	for k, v := range kv {
		fields.Extras[k] = v
	}
	fillFields(fields, kv)
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}
	if fields.Kind == "" {
		bare := strings.TrimSpace(reKV.ReplaceAllString(rest, ""))
		if tokens := strings.Fields(bare); len(tokens) > 0 {
			fields.Kind = tokens[0]
		}
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser maps columns by header when one was seen, otherwise by the
// fixed order timestamp, source, kind, confidence, device_id, profile_id.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

var positional = []string{"timestamp", "source", "kind", "confidence", "device_id", "profile_id"}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	names := p.header
	if names == nil {
		names = positional
	}
	m := make(map[string]string, len(record))
	for i, name := range names {
		if i >= len(record) {
			break
		}
		m[name] = strings.TrimSpace(record[i])
	}
	fields := &normalize.EventFields{Extras: m}
	fillFields(fields, m)
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "timestamp", "time", "ts", "source", "kind", "type", "confidence", "score", "device_id", "device", "profile_id":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
