// Package catalogue holds the indicator catalogue: the immutable mapping
// from indicator code to source, description and aggregation rule. It is
// loaded once at startup and passed explicitly to plugins and the
// aggregation engine.
package catalogue

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seenimoa/landlinked/pkg/models"
)

// ConfigurationError reports a malformed catalogue entry: an unknown
// source or aggregation rule, or a weighted rule whose weight indicator is
// missing.
type ConfigurationError struct {
	Indicator string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("indicator %q: %s", e.Indicator, e.Reason)
}

// Catalogue is an immutable, ordered set of indicators.
type Catalogue struct {
	byCode map[string]models.Indicator
	codes  []string
}

// New validates indicators and builds a catalogue preserving their order.
func New(indicators []models.Indicator) (*Catalogue, error) {
	c := &Catalogue{
		byCode: make(map[string]models.Indicator, len(indicators)),
		codes:  make([]string, 0, len(indicators)),
	}
	for _, ind := range indicators {
		if ind.Code == "" {
			return nil, &ConfigurationError{Reason: "empty indicator code"}
		}
		if _, dup := c.byCode[ind.Code]; dup {
			return nil, &ConfigurationError{Indicator: ind.Code, Reason: "duplicate indicator code"}
		}
		if !slices.Contains(models.KnownSources, ind.Source) {
			return nil, &ConfigurationError{Indicator: ind.Code, Reason: fmt.Sprintf("unknown source %q", ind.Source)}
		}
		c.byCode[ind.Code] = ind
		c.codes = append(c.codes, ind.Code)
	}
	for _, code := range c.codes {
		if err := c.checkRule(c.byCode[code]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalogue) checkRule(ind models.Indicator) error {
	switch ind.Agg.Kind {
	case models.AggSum, models.AggMean:
		return nil
	case models.AggWeighted:
		if ind.Agg.WeightBy == "" {
			return &ConfigurationError{Indicator: ind.Code, Reason: "weighted rule without weight_by"}
		}
		if _, ok := c.byCode[ind.Agg.WeightBy]; !ok {
			return &ConfigurationError{Indicator: ind.Code, Reason: fmt.Sprintf("weight_by %q is not in the catalogue", ind.Agg.WeightBy)}
		}
		return nil
	default:
		return &ConfigurationError{Indicator: ind.Code, Reason: fmt.Sprintf("unknown aggregation rule %s", ind.Agg.Kind)}
	}
}

// Get returns the indicator for code.
func (c *Catalogue) Get(code string) (models.Indicator, bool) {
	ind, ok := c.byCode[code]
	return ind, ok
}

// All returns every indicator in catalogue order.
func (c *Catalogue) All() []models.Indicator {
	out := make([]models.Indicator, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, c.byCode[code])
	}
	return out
}

// Codes returns every indicator code in catalogue order.
func (c *Catalogue) Codes() []string {
	out := make([]string, len(c.codes))
	copy(out, c.codes)
	return out
}

// BySource returns the indicators whose source equals source.
func (c *Catalogue) BySource(source string) []models.Indicator {
	var out []models.Indicator
	for _, code := range c.codes {
		if ind := c.byCode[code]; ind.Source == source {
			out = append(out, ind)
		}
	}
	return out
}

// Len returns the number of indicators.
func (c *Catalogue) Len() int { return len(c.codes) }

// --- YAML loading ---

// rawIndicator mirrors one catalogue file entry.
type rawIndicator struct {
	Source      string            `yaml:"source"`
	Description string            `yaml:"description"`
	Agg         string            `yaml:"agg"`
	WeightBy    string            `yaml:"weight_by"`
	Unit        string            `yaml:"unit"`
	SourceURL   string            `yaml:"source_url"`
	SourceDB    string            `yaml:"source_db"`
	Params      map[string]string `yaml:"params"`
}

type rawFile struct {
	Indicators yaml.Node `yaml:"indicators"`
}

// Parse decodes a YAML catalogue of the form
//
//	indicators:
//	  SP.POP.GROW:
//	    source: World Bank
//	    description: Population growth (annual %)
//	    agg: weighted
//	    weight_by: SP.POP.TOTL
//
// Entry order is preserved. An unknown agg tag is a ConfigurationError.
func Parse(data []byte) (*Catalogue, error) {
	var f rawFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalogue: %w", err)
	}
	if f.Indicators.Kind == 0 {
		return New(nil)
	}
	if f.Indicators.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing catalogue: indicators must be a mapping (line %d)", f.Indicators.Line)
	}

	nodes := f.Indicators.Content
	indicators := make([]models.Indicator, 0, len(nodes)/2)
	for i := 0; i+1 < len(nodes); i += 2 {
		code := strings.TrimSpace(nodes[i].Value)
		var raw rawIndicator
		if err := nodes[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing catalogue entry %q: %w", code, err)
		}
		ind, err := raw.indicator(code)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, ind)
	}
	return New(indicators)
}

func (r rawIndicator) indicator(code string) (models.Indicator, error) {
	kind, err := models.ParseAggKind(r.Agg)
	if err != nil {
		return models.Indicator{}, &ConfigurationError{Indicator: code, Reason: err.Error()}
	}
	rule := models.AggRule{Kind: kind}
	if kind == models.AggWeighted {
		rule.WeightBy = strings.TrimSpace(r.WeightBy)
	}
	return models.Indicator{
		Code:        code,
		Description: r.Description,
		Source:      r.Source,
		Agg:         rule,
		Unit:        r.Unit,
		SourceURL:   r.SourceURL,
		SourceDB:    r.SourceDB,
		Params:      r.Params,
	}, nil
}

// Load reads and parses a catalogue file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
