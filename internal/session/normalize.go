// Package session holds the provider-defined session tree and the views
// derived from it: the flat record, the audio transcript and the patient row.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tree is a session record as returned by the provider. Its shape is not
// contractually fixed, so it stays a generic key-value tree.
type Tree map[string]any

// Flat is a single-level record: every value is a scalar, nil, or the JSON
// text of an array.
type Flat map[string]any

// Flatten walks tree and joins nested object keys with an underscore,
// prepending prefix when it is non-empty. Arrays are serialized rather than
// descended into. The input is not modified.
func Flatten(tree map[string]any, prefix string) Flat {
	out := make(Flat, len(tree))
	flattenInto(out, tree, prefix)
	return out
}

func flattenInto(out Flat, obj map[string]any, prefix string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}

		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, val, key)
		case Tree:
			flattenInto(out, val, key)
		case []any:
			out[key] = stringifyArray(val)
		default:
			out[key] = val
		}
	}
}

// Normalize flattens a session for tabular display. The patient subtree is
// pulled out, flattened under the "patient" prefix and merged back, so a
// nested patient.name becomes patient_name. Normalizing an already flat
// record returns an equal record.
func Normalize(tree map[string]any) Flat {
	rest := make(map[string]any, len(tree))
	var patient any
	for k, v := range tree {
		if k == "patient" {
			patient = v
			continue
		}
		rest[k] = v
	}

	out := Flatten(rest, "")
	switch p := patient.(type) {
	case nil:
	case map[string]any:
		flattenInto(out, p, "patient")
	case Tree:
		flattenInto(out, p, "patient")
	case []any:
		out["patient"] = stringifyArray(p)
	default:
		out["patient"] = p
	}
	return out
}

// stringifyArray renders an array the way a browser's JSON.stringify would,
// without HTML escaping.
func stringifyArray(arr []any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return fmt.Sprint(arr)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// String returns the value at key when it is a non-empty string.
func (f Flat) String(key string) (string, bool) {
	s, ok := f[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
