package session

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UnknownGender is used when the session does not record a gender.
const UnknownGender = "Unknown"

// Patient is the dashboard row derived from a session.
type Patient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	MRN       string `json:"mrn"`
	LastVisit string `json:"last_visit"`
}

var titleCaser = cases.Title(language.English)

// DerivePatient builds the patient row for the record at position index in
// a batch. Missing identifiers fall back to index-based placeholders.
func DerivePatient(index int, rec Record, now time.Time) Patient {
	name := derivePatientName(index, rec)

	id, ok := rec.Flat.String("session_id")
	if !ok {
		if id, ok = rec.Flat.String("id"); !ok {
			id = fmt.Sprintf("patient-%d", index)
		}
	}

	mrn, ok := rec.Flat.String("patient_mrn")
	if !ok {
		if mrn, ok = rec.Flat.String("patient_id"); !ok {
			mrn = fmt.Sprintf("MRN-%d", index)
		}
	}

	gender := UnknownGender
	if g, ok := rec.Flat.String("patient_gender"); ok {
		gender = titleCaser.String(strings.TrimSpace(g))
	}

	age, ok := numericAge(rec.Flat["patient_age"])
	if !ok {
		age = SeededAge(name)
	}

	lastVisit, ok := rec.Flat.String("created_at")
	if !ok {
		lastVisit = now.UTC().Format(time.RFC3339)
	}

	return Patient{
		ID:        id,
		Name:      name,
		Age:       age,
		Gender:    gender,
		MRN:       mrn,
		LastVisit: lastVisit,
	}
}

func derivePatientName(index int, rec Record) string {
	if name, ok := rec.Flat.String("patient_name"); ok {
		return name
	}
	if p, ok := rec.Tree["patient"].(map[string]any); ok {
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := p[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("Patient %d", index+1)
}

func numericAge(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n > 0
	case int:
		return n, n > 0
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil && i > 0
	default:
		return 0, false
	}
}

// SeededAge maps a name to a stable pseudo-random age in [18, 65]. It
// reproduces the dashboard's string hash so ages match across clients.
func SeededAge(name string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(name)) {
		h = (h << 5) - h + int32(c)
	}
	x := math.Sin(math.Abs(float64(h))) * 10000
	r := x - math.Floor(x)
	return int(math.Floor(r*48)) + 18
}
