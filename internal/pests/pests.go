// Package pests holds the read-only pest encyclopedia and the pure lookup
// helpers used by the CLI and the gateway.
package pests

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Category is the coarse body-type grouping of a pest.
type Category string

const (
	CategoryCrawling   Category = "crawling"
	CategoryFlying     Category = "flying"
	CategoryLarval     Category = "larval"
	CategorySoftBodied Category = "soft-bodied"
)

// ThreatLevel is the coarse severity used for display styling.
type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// Species is one commonly encountered species of a pest group.
type Species struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Record is a single encyclopedia entry.
type Record struct {
	ID                string      `yaml:"id" json:"id"`
	Name              string      `yaml:"name" json:"name"`
	ScientificName    string      `yaml:"scientific_name" json:"scientific_name"`
	Category          Category    `yaml:"category" json:"category"`
	ThreatLevel       ThreatLevel `yaml:"threat_level" json:"threat_level"`
	Image             string      `yaml:"image" json:"image,omitempty"`
	Summary           string      `yaml:"summary" json:"summary,omitempty"`
	Description       string      `yaml:"description" json:"description"`
	Symptoms          []string    `yaml:"symptoms" json:"symptoms"`
	OrganicTreatment  []string    `yaml:"organic_treatment" json:"organic_treatment"`
	ChemicalTreatment []string    `yaml:"chemical_treatment" json:"chemical_treatment"`
	Prevention        []string    `yaml:"prevention" json:"prevention"`
	CommonSpecies     []Species   `yaml:"common_species" json:"common_species"`
}

func (r Record) clone() Record {
	r.Symptoms = append([]string(nil), r.Symptoms...)
	r.OrganicTreatment = append([]string(nil), r.OrganicTreatment...)
	r.ChemicalTreatment = append([]string(nil), r.ChemicalTreatment...)
	r.Prevention = append([]string(nil), r.Prevention...)
	r.CommonSpecies = append([]Species(nil), r.CommonSpecies...)
	return r
}

// ErrDuplicateID is returned by NewCatalog when two records share an id.
var ErrDuplicateID = errors.New("duplicate pest id")

// Catalog is an immutable, ordered pest table.
type Catalog struct {
	records []Record
	byID    map[string]int
}

// NewCatalog validates and indexes records. The input slice is copied.
func NewCatalog(records []Record) (*Catalog, error) {
	c := &Catalog{
		records: make([]Record, 0, len(records)),
		byID:    make(map[string]int, len(records)),
	}
	for i, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("pest record %d: empty id", i)
		}
		if _, ok := c.byID[r.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, r.ID)
		}
		c.byID[r.ID] = len(c.records)
		c.records = append(c.records, r.clone())
	}
	return c, nil
}

// Len reports the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// All returns every record in display order.
func (c *Catalog) All() []Record {
	return c.filter(func(Record) bool { return true })
}

// GetByID returns the record with exactly this id.
func (c *Catalog) GetByID(id string) (Record, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return c.records[i].clone(), true
}

// FilterByCategory returns the records in category. An empty category
// matches every record.
func (c *Catalog) FilterByCategory(category Category) []Record {
	if category == "" {
		return c.All()
	}
	return c.filter(func(r Record) bool { return r.Category == category })
}

// FilterByThreat returns the records at level. An empty level matches every
// record.
func (c *Catalog) FilterByThreat(level ThreatLevel) []Record {
	if level == "" {
		return c.All()
	}
	return c.filter(func(r Record) bool { return r.ThreatLevel == level })
}

// Search does a case-insensitive substring match on name, scientific name
// and description. A blank query returns the whole table.
func (c *Catalog) Search(query string) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.All()
	}
	return c.filter(func(r Record) bool { return matches(r, q) })
}

// Filter combines the directory filters. Zero fields match everything.
type Filter struct {
	Category Category
	Threat   ThreatLevel
	Query    string
}

// Find returns the records matching every set field of f.
func (c *Catalog) Find(f Filter) []Record {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	return c.filter(func(r Record) bool {
		if f.Category != "" && r.Category != f.Category {
			return false
		}
		if f.Threat != "" && r.ThreatLevel != f.Threat {
			return false
		}
		return q == "" || matches(r, q)
	})
}

func matches(r Record, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(r.Name), lowerQuery) ||
		strings.Contains(strings.ToLower(r.ScientificName), lowerQuery) ||
		strings.Contains(strings.ToLower(r.Description), lowerQuery)
}

// IDForClassName maps a classifier class name (for example "Ants") to the
// id of the matching record.
func (c *Catalog) IDForClassName(className string) (string, bool) {
	name := strings.TrimSpace(className)
	if name == "" {
		return "", false
	}
	for _, r := range c.records {
		if strings.EqualFold(r.Name, name) || strings.EqualFold(r.ID, name) {
			return r.ID, true
		}
	}
	return "", false
}

func (c *Catalog) filter(keep func(Record) bool) []Record {
	out := make([]Record, 0, len(c.records))
	for _, r := range c.records {
		if keep(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

//go:embed pests.yaml
var embeddedTable []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog built from the embedded encyclopedia. It
// panics if the embedded table is malformed, which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(embeddedTable)
		if err != nil {
			panic(fmt.Sprintf("pests: embedded table: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Parse decodes a YAML list of records into a catalog.
func Parse(data []byte) (*Catalog, error) {
	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode pest table: %w", err)
	}
	return NewCatalog(records)
}

// GetByID looks up id in the default catalog.
func GetByID(id string) (Record, bool) { return Default().GetByID(id) }

// FilterByCategory filters the default catalog.
func FilterByCategory(category Category) []Record { return Default().FilterByCategory(category) }

// FilterByThreat filters the default catalog.
func FilterByThreat(level ThreatLevel) []Record { return Default().FilterByThreat(level) }

// Search searches the default catalog.
func Search(query string) []Record { return Default().Search(query) }

// ThreatColor maps a threat level to its display color.
func ThreatColor(level ThreatLevel) string {
	switch level {
	case ThreatLow:
		return "#4CAF50"
	case ThreatMedium:
		return "#FF9800"
	case ThreatHigh:
		return "#F44336"
	default:
		return "#9E9E9E"
	}
}

// ThreatLabel maps a threat level to its display label.
func ThreatLabel(level ThreatLevel) string {
	switch level {
	case ThreatLow:
		return "Low Threat"
	case ThreatMedium:
		return "Medium Threat"
	case ThreatHigh:
		return "High Threat"
	default:
		return "Unknown Threat"
	}
}

// CategoryLabel maps a category to its display label.
func CategoryLabel(category Category) string {
	switch category {
	case CategoryCrawling:
		return "Crawling Pest"
	case CategoryFlying:
		return "Flying Pest"
	case CategoryLarval:
		return "Larval Pest"
	case CategorySoftBodied:
		return "Soft-bodied Pest"
	default:
		return "Unknown Category"
	}
}
