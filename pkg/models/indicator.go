package models

import (
	"fmt"
	"strings"
)

// Source names. The set is closed: the catalogue rejects an entry naming
// anything else.
const (
	SourceWorldBank = "World Bank"
	SourceUNSDG     = "UN SDG"
	SourceFAOSTAT   = "FAOSTAT"
	SourceIMF       = "IMF"
)

// KnownSources lists every source name in registration order.
var KnownSources = []string{SourceWorldBank, SourceUNSDG, SourceFAOSTAT, SourceIMF}

// AggKind selects how per-country values are combined into a group series.
type AggKind int

const (
	AggUnknown AggKind = iota
	AggSum
	AggMean
	AggWeighted
)

func (k AggKind) String() string {
	switch k {
	case AggSum:
		return "sum"
	case AggMean:
		return "mean"
	case AggWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k AggKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AggKind) UnmarshalText(b []byte) error {
	parsed, err := ParseAggKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseAggKind maps the catalogue tag to an AggKind.
func ParseAggKind(s string) (AggKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return AggSum, nil
	case "mean":
		return AggMean, nil
	case "weighted":
		return AggWeighted, nil
	default:
		return AggUnknown, fmt.Errorf("unknown aggregation rule %q", s)
	}
}

// AggRule is the aggregation rule of an indicator. WeightBy is only
// meaningful for AggWeighted and names the indicator supplying weights.
type AggRule struct {
	Kind     AggKind `json:"kind"`
	WeightBy string  `json:"weight_by,omitempty"`
}

// Sum, Mean and Weighted build the three valid rules.
func Sum() AggRule                     { return AggRule{Kind: AggSum} }
func Mean() AggRule                    { return AggRule{Kind: AggMean} }
func Weighted(weightBy string) AggRule { return AggRule{Kind: AggWeighted, WeightBy: weightBy} }

func (r AggRule) String() string {
	if r.Kind == AggWeighted {
		return "weighted(" + r.WeightBy + ")"
	}
	return r.Kind.String()
}

// Parameter keys carried in Indicator.Params for source-specific fetches.
const (
	ParamFAODomain  = "domain"
	ParamFAOItem    = "item"
	ParamFAOElement = "element"
	ParamIMFCode    = "imf_code"
)

// Indicator is one catalogue entry.
type Indicator struct {
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Source      string            `json:"source"`
	Agg         AggRule           `json:"agg"`
	Unit        string            `json:"unit,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	SourceDB    string            `json:"source_db,omitempty"`
	Params      map[string]string `json:"params,omitempty"` // opaque to everything but the owning plugin
}

// Param returns a source-specific parameter, or def when unset.
func (i Indicator) Param(key, def string) string {
	if v, ok := i.Params[key]; ok && v != "" {
		return v
	}
	return def
}
