package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/tripcoord/internal/roster/domain"
)

const verdictAuthorized = "Authorized"

// unwrapEnvelope accepts [{data: [...]}], {data: [...]} or a bare array.
func unwrapEnvelope(body []byte) ([]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch t := v.(type) {
	case []any:
		if len(t) == 1 {
			if m, ok := t[0].(map[string]any); ok {
				if inner, ok := m["data"].([]any); ok {
					return inner, nil
				}
			}
		}
		return t, nil
	case map[string]any:
		if inner, ok := t["data"].([]any); ok {
			return inner, nil
		}
		if _, ok := t["data"]; !ok {
			return nil, errors.New("response object has no data array")
		}
		return nil, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected response of type %T", v)
	}
}

func decodeRecords(body []byte) ([]domain.RawRecord, error) {
	items, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	records := make([]domain.RawRecord, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, flatten(m))
	}
	return records, nil
}

// flatten lifts store-style {id, fields: {...}} records to a single level.
func flatten(m map[string]any) domain.RawRecord {
	fields, ok := m["fields"].(map[string]any)
	if !ok {
		return domain.RawRecord(m)
	}
	rec := make(domain.RawRecord, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	if id, ok := m["id"]; ok {
		rec["id"] = id
	}
	return rec
}

func decodeCatalog(body []byte) ([]domain.TripOption, error) {
	items, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.TripKey]int)
	options := []domain.TripOption{}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		m = flatten(m)
		key := domain.TripKey{
			Date:     scalar(m, "FechaSalida", "fechaSalida", "Fecha Cerro", "date"),
			Location: scalar(m, "Lugar", "lugar", "Cerro", "location"),
		}
		if key.Date == "" || key.Location == "" {
			continue
		}
		coordinators := list(m, "Coordinadores", "coordinadores", "coordinators")
		coordinators = appendUnique(coordinators, nonBlank(scalar(m, "coordinador1"), scalar(m, "coordinador2"))...)
		if i, dup := seen[key]; dup {
			options[i].Coordinators = appendUnique(options[i].Coordinators, coordinators...)
			continue
		}
		seen[key] = len(options)
		options = append(options, domain.TripOption{
			Trip:         key,
			Difficulty:   scalar(m, "Dificultad", "Nivel de dificultad", "difficulty"),
			Coordinators: coordinators,
		})
	}
	return options, nil
}

// decodeVerdict reports whether a credential check came back authorized, and
// the display name when the backend includes one.
func decodeVerdict(body []byte) (string, bool) {
	body = bytes.TrimSpace(body)
	if string(body) == verdictAuthorized {
		return "", true
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return "", t == verdictAuthorized
	case []any:
		if len(t) == 0 {
			return "", false
		}
		m, ok := t[0].(map[string]any)
		if !ok {
			return "", false
		}
		if m["Authorization"] == verdictAuthorized {
			return displayName(m), true
		}
		return "", false
	case map[string]any:
		if t["authorized"] == true || t["Authorized"] == true ||
			t["status"] == verdictAuthorized || t["Authorization"] == verdictAuthorized {
			return displayName(t), true
		}
	}
	return "", false
}

func displayName(m map[string]any) string {
	return scalar(m, "name", "nombre", "displayName", "Nombre")
}

func scalar(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if arr, ok := v.([]any); ok {
			if len(arr) == 0 {
				continue
			}
			v = arr[0]
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

func list(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			var out []string
			for _, item := range v {
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					out = appendUnique(out, s)
				}
			}
			return out
		case string:
			var out []string
			for _, part := range strings.Split(v, ",") {
				if s := strings.TrimSpace(part); s != "" {
					out = appendUnique(out, s)
				}
			}
			return out
		}
	}
	return nil
}

func nonBlank(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
