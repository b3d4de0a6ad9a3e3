// Package trials loads the clinical trial catalog used to screen patients.
package trials

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trial-eligibility/internal/eligibility"
)

//go:embed default.yaml
var defaultCatalog []byte

// AgeRange is an inclusive age bound in years.
type AgeRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether age falls inside the range.
func (r AgeRange) Contains(age int) bool {
	return age >= r.Min && age <= r.Max
}

func (r AgeRange) String() string {
	return fmt.Sprintf("%d-%d years", r.Min, r.Max)
}

// Trial describes one clinical trial.
type Trial struct {
	ID               string   `yaml:"id" json:"id"`
	ProtocolID       string   `yaml:"protocol_id" json:"protocol_id"`
	Aliases          []string `yaml:"aliases" json:"aliases,omitempty"`
	Name             string   `yaml:"name" json:"name"`
	Sponsor          string   `yaml:"sponsor" json:"sponsor"`
	ResearchAim      string   `yaml:"research_aim" json:"research_aim"`
	Phase            string   `yaml:"phase" json:"phase"`
	TherapeuticArea  string   `yaml:"therapeutic_area" json:"therapeutic_area"`
	AgeRange         AgeRange `yaml:"age_range" json:"age_range"`
	Genders          []string `yaml:"genders" json:"genders"`
	Inclusion        []string `yaml:"inclusion" json:"inclusion"`
	Exclusion        []string `yaml:"exclusion" json:"exclusion"`
	OtherDemographic string   `yaml:"other_demographics" json:"other_demographics,omitempty"`
	EnrollmentTarget int      `yaml:"enrollment_target" json:"enrollment_target"`
}

// AllowsGender reports whether gender is in the trial's list. Comparison
// ignores case.
func (t Trial) AllowsGender(gender string) bool {
	return slices.ContainsFunc(t.Genders, func(g string) bool {
		return strings.EqualFold(g, gender)
	})
}

// Matches reports whether id names this trial by id, protocol id or alias.
func (t Trial) Matches(id string) bool {
	return id == t.ID || id == t.ProtocolID || slices.Contains(t.Aliases, id)
}

// Descriptor returns the trial half of an eligibility assessment input.
func (t Trial) Descriptor() eligibility.Trial {
	other := t.OtherDemographic
	if other == "" {
		other = "None specified"
	}
	return eligibility.Trial{
		Name:              t.Name,
		ProtocolID:        t.ProtocolID,
		Sponsor:           t.Sponsor,
		ResearchAim:       strings.TrimSpace(t.ResearchAim),
		Inclusion:         slices.Clone(t.Inclusion),
		Exclusion:         slices.Clone(t.Exclusion),
		AgeRange:          t.AgeRange.String(),
		Gender:            strings.Join(t.Genders, ", "),
		OtherDemographics: other,
	}
}

// Catalog is an ordered, read-only set of trials.
type Catalog struct {
	trials []Trial
}

type catalogFile struct {
	Trials []Trial `yaml:"trials"`
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "trials: parse catalog")
	}
	if len(f.Trials) == 0 {
		return nil, eris.New("trials: catalog is empty")
	}

	seen := make(map[string]string)
	for i, t := range f.Trials {
		if t.ID == "" || t.ProtocolID == "" || t.Name == "" {
			return nil, eris.Errorf("trials: entry %d: id, protocol_id and name are required", i)
		}
		if t.AgeRange.Max < t.AgeRange.Min {
			return nil, eris.Errorf("trials: %s: age_range max %d < min %d", t.ID, t.AgeRange.Max, t.AgeRange.Min)
		}
		for _, key := range append([]string{t.ID, t.ProtocolID}, t.Aliases...) {
			if owner, dup := seen[key]; dup && owner != t.ID {
				return nil, eris.Errorf("trials: identifier %q used by both %s and %s", key, owner, t.ID)
			}
			seen[key] = t.ID
		}
	}

	return &Catalog{trials: f.Trials}, nil
}

// Load reads a catalog from path, or returns the built-in catalog when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "trials: read %s", path)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err) // embedded file is covered by tests
	}
	return c
}

// All returns every trial in catalog order.
func (c *Catalog) All() []Trial {
	return slices.Clone(c.trials)
}

// Get looks a trial up by id, protocol id or alias.
func (c *Catalog) Get(id string) (Trial, bool) {
	for _, t := range c.trials {
		if t.Matches(id) {
			return t, true
		}
	}
	return Trial{}, false
}

// TrialIDForProtocol maps a stored protocol id to the catalog trial id.
func (c *Catalog) TrialIDForProtocol(protocolID string) (string, bool) {
	t, ok := c.Get(protocolID)
	if !ok {
		return "", false
	}
	return t.ID, true
}
