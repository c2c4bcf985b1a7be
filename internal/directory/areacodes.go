package directory

import (
	"strconv"
	"strings"

	"github.com/seenimoa/landlinked/pkg/models"
)

// AreaCodes is the bidirectional country <-> UN M49 table used by sources
// that identify countries numerically. Only countries with M49, ISO2 and
// ISO3 codes are included.
type AreaCodes struct {
	byM49 map[int]models.Country
	toM49 map[string]int
}

// NewAreaCodes builds the table from country reference data.
func NewAreaCodes(countries []models.Country) *AreaCodes {
	a := &AreaCodes{
		byM49: make(map[int]models.Country),
		toM49: make(map[string]int),
	}
	for _, c := range countries {
		if c.M49 == 0 || c.ISO2 == "" || c.ISO3 == "" {
			continue
		}
		a.byM49[c.M49] = c
		a.toM49[strings.ToUpper(c.ISO3)] = c.M49
	}
	return a
}

// M49 returns the numeric area code of an ISO3 country.
func (a *AreaCodes) M49(iso3 string) (int, bool) {
	m, ok := a.toM49[strings.ToUpper(iso3)]
	return m, ok
}

// Country returns the country with the given numeric area code.
func (a *AreaCodes) Country(m49 int) (models.Country, bool) {
	c, ok := a.byM49[m49]
	return c, ok
}

// Len returns the number of mapped countries.
func (a *AreaCodes) Len() int { return len(a.byM49) }

// parseM49 parses a numeric area code, tolerating zero padding ("004")
// and a leading apostrophe ("'004") as emitted by some spreadsheet exports.
func parseM49(s string) (int, bool) {
	s = strings.TrimLeft(strings.TrimSpace(s), "'")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

