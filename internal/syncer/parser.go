// Package syncer ingests threat-intel feeds: fetch, parse, canonicalize,
// hash and upsert into the indicator store, with per-source scheduling and
// cache invalidation on change.
package syncer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/db"
)

// parserHint is the per-source parser_hint JSON. Column indexes are
// zero-based positions in CSV rows; JSON paths use gjson syntax.
type parserHint struct {
	Comment       string `json:"comment"`
	Field         int    `json:"field"`
	ValueCol      int    `json:"value_col"`
	TypeCol       int    `json:"type_col"`
	ThreatCol     int    `json:"threat_col"`
	TagsCol       int    `json:"tags_col"`
	ConfidenceCol int    `json:"confidence_col"`
	ScoreCol      int    `json:"score_col"`

	Items string `json:"items"`
	Value string `json:"value"`

	Threat      string `json:"threat"`
	ThreatConst string `json:"threat_const"`
	Severity    string `json:"severity"`

	// github_file coordinates.
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Path  string `json:"path"`
}

func (h parserHint) threatType() string {
	if h.ThreatConst != "" {
		return h.ThreatConst
	}
	return h.Threat
}

func parseHint(raw string) (parserHint, error) {
	var h parserHint
	if raw == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return h, fmt.Errorf("parser hint: %w", err)
	}
	return h, nil
}

const defaultConfidence = 75

// parseFeed dispatches on the source type and streams parsed indicators to
// emit. Individual malformed entries are skipped and counted; only a feed
// that yields nothing at all is an error.
func parseFeed(src *db.ThreatIntelSource, data []byte, emit func(db.ParsedIndicator) error) (skipped int, err error) {
	hint, err := parseHint(src.ParserHint)
	if err != nil {
		return 0, err
	}

	switch src.Type {
	case db.SourceFeedCSV:
		return parseCSV(src, hint, data, emit)
	case db.SourceFeedJSON:
		return parseJSON(src, hint, data, emit)
	case db.SourceFeedText, db.SourceGitHubFile:
		return parseText(src, hint, data, emit)
	default:
		return 0, fmt.Errorf("no parser for source type %q", src.Type)
	}
}

func parseCSV(src *db.ThreatIntelSource, hint parserHint, data []byte, emit func(db.ParsedIndicator) error) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if hint.Comment != "" {
		r.Comment = rune(hint.Comment[0])
	}

	skipped := 0
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Malformed row; csv.Reader cannot resync mid-record, give up.
			return skipped, fmt.Errorf("csv: %w", err)
		}
		if hint.ValueCol >= len(record) {
			skipped++
			continue
		}

		value := strings.TrimSpace(record[hint.ValueCol])
		indType := src.IndicatorType
		if hint.TypeCol > 0 && hint.TypeCol < len(record) {
			indType = mapIndicatorType(record[hint.TypeCol])
		}
		threat := hint.threatType()
		if hint.ThreatCol > 0 && hint.ThreatCol < len(record) {
			threat = strings.TrimSpace(record[hint.ThreatCol])
		}
		confidence := defaultConfidence
		if hint.ConfidenceCol > 0 && hint.ConfidenceCol < len(record) {
			if v, err := strconv.Atoi(strings.TrimSpace(record[hint.ConfidenceCol])); err == nil {
				confidence = v
			}
		}
		if hint.ScoreCol > 0 && hint.ScoreCol < len(record) {
			// PhishStats-style 0..10 score.
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[hint.ScoreCol]), 64); err == nil {
				confidence = int(v * 10)
			}
		}

		meta := map[string]any{}
		if hint.TagsCol > 0 && hint.TagsCol < len(record) && record[hint.TagsCol] != "" {
			meta["tags"] = strings.TrimSpace(record[hint.TagsCol])
		}

		ind, err := buildIndicator(indType, value, threat, hint.Severity, confidence, meta)
		if err != nil {
			skipped++
			continue
		}
		if err := emit(ind); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func parseJSON(src *db.ThreatIntelSource, hint parserHint, data []byte, emit func(db.ParsedIndicator) error) (int, error) {
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("json feed: invalid document")
	}
	root := gjson.ParseBytes(data)
	items := root
	if hint.Items != "" && hint.Items != "@this" {
		items = root.Get(hint.Items)
	}
	if !items.IsArray() {
		return 0, fmt.Errorf("json feed: items path %q is not an array", hint.Items)
	}

	skipped := 0
	var emitErr error
	items.ForEach(func(_, item gjson.Result) bool {
		value := item.Get(hint.Value).String()
		if value == "" {
			skipped++
			return true
		}
		confidence := defaultConfidence
		if c := item.Get("confidence"); c.Exists() {
			confidence = int(c.Int())
		}
		threat := hint.threatType()
		if t := item.Get("threat_type"); t.Exists() {
			threat = t.String()
		} else if t := item.Get("malware"); t.Exists() {
			threat = t.String()
		}

		ind, err := buildIndicator(src.IndicatorType, value, threat, hint.Severity, confidence, nil)
		if err != nil {
			skipped++
			return true
		}
		if err := emit(ind); err != nil {
			emitErr = err
			return false
		}
		return true
	})
	return skipped, emitErr
}

func parseText(src *db.ThreatIntelSource, hint parserHint, data []byte, emit func(db.ParsedIndicator) error) (int, error) {
	skipped := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if hint.Comment != "" && strings.HasPrefix(line, hint.Comment) {
			continue
		}
		// Strip trailing same-line comments ("1.2.3.0/24 ; SBL123").
		if hint.Comment != "" {
			if idx := strings.Index(line, hint.Comment); idx > 0 {
				line = strings.TrimSpace(line[:idx])
			}
		}
		fields := strings.Fields(line)
		if hint.Field >= len(fields) {
			skipped++
			continue
		}
		value := fields[hint.Field]

		ind, err := buildIndicator(src.IndicatorType, value, hint.threatType(), hint.Severity, defaultConfidence, nil)
		if err != nil {
			skipped++
			continue
		}
		if err := emit(ind); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// buildIndicator canonicalizes the value per its type and hashes it; sync
// writes and query lookups share the same canonical form.
func buildIndicator(indType, value, threat, severity string, confidence int, meta map[string]any) (db.ParsedIndicator, error) {
	if indType == "" {
		indType = canonical.TypeURL
	}
	cv, hash, err := canonical.Value(indType, value)
	if err != nil && indType == canonical.TypeIP {
		// Some feeds publish ip:port entries.
		if host, _, splitErr := net.SplitHostPort(value); splitErr == nil {
			cv, hash, err = canonical.Value(indType, host)
		}
	}
	if err != nil {
		return db.ParsedIndicator{}, err
	}
	if severity == "" {
		severity = "medium"
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return db.ParsedIndicator{
		Type:       indType,
		Value:      cv,
		ValueHash:  hash,
		ThreatType: threat,
		Severity:   severity,
		Confidence: confidence,
		Metadata:   meta,
	}, nil
}

// mapIndicatorType normalizes feed-specific type labels to store types.
func mapIndicatorType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip", "ip_address", "ip:port", "ip_port":
		return canonical.TypeIP
	case "domain", "hostname", "fqdn":
		return canonical.TypeDomain
	case "md5", "md5_hash", "sha256", "sha256_hash", "hash":
		return canonical.TypeHash
	case "email", "email_address":
		return canonical.TypeEmail
	default:
		return canonical.TypeURL
	}
}
