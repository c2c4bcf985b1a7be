// Package directory loads the static country and group reference data and
// answers lookups by name, ISO2, ISO3, FIPS and UN M49 code.
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/seenimoa/landlinked/pkg/models"
)

// ErrGroupNotFound is returned for an unknown group code.
var ErrGroupNotFound = errors.New("group not found")

// Directory is the immutable country/group reference table.
type Directory struct {
	countries []models.Country
	byISO3    map[string]models.Country
	byISO2    map[string]models.Country
	byName    map[string]models.Country
	byFIPS    map[string]models.Country
	groups    map[string]models.Group
	areas     *AreaCodes
}

// New indexes countries and groups. Group members are completed with the
// FIPS and M49 codes of the matching country-table entry.
func New(countries []models.Country, groups []models.Group) *Directory {
	d := &Directory{
		countries: countries,
		byISO3:    make(map[string]models.Country, len(countries)),
		byISO2:    make(map[string]models.Country, len(countries)),
		byName:    make(map[string]models.Country, len(countries)),
		byFIPS:    make(map[string]models.Country),
		groups:    make(map[string]models.Group, len(groups)),
	}
	for _, c := range countries {
		if c.ISO3 != "" {
			d.byISO3[strings.ToUpper(c.ISO3)] = c
		}
		if c.ISO2 != "" {
			d.byISO2[strings.ToUpper(c.ISO2)] = c
		}
		if c.Name != "" {
			d.byName[strings.ToLower(c.Name)] = c
		}
		if c.FIPS != "" {
			d.byFIPS[strings.ToUpper(c.FIPS)] = c
		}
	}
	d.areas = NewAreaCodes(countries)

	for _, g := range groups {
		members := make([]models.Country, len(g.Countries))
		for i, m := range g.Countries {
			if ref, ok := d.byISO3[strings.ToUpper(m.ISO3)]; ok {
				if m.FIPS == "" {
					m.FIPS = ref.FIPS
				}
				if m.M49 == 0 {
					m.M49 = ref.M49
				}
				if m.ISO2 == "" {
					m.ISO2 = ref.ISO2
				}
			}
			members[i] = m
		}
		g.Countries = members
		d.groups[strings.ToLower(g.Code)] = g
	}
	return d
}

// ByISO3 looks a country up by its alpha-3 code.
func (d *Directory) ByISO3(iso3 string) (models.Country, bool) {
	c, ok := d.byISO3[strings.ToUpper(iso3)]
	return c, ok
}

// ByISO2 looks a country up by its alpha-2 code.
func (d *Directory) ByISO2(iso2 string) (models.Country, bool) {
	c, ok := d.byISO2[strings.ToUpper(iso2)]
	return c, ok
}

// ByName looks a country up by its English display name.
func (d *Directory) ByName(name string) (models.Country, bool) {
	c, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// ByFIPS looks a country up by its FIPS GEC code.
func (d *Directory) ByFIPS(fips string) (models.Country, bool) {
	c, ok := d.byFIPS[strings.ToUpper(fips)]
	return c, ok
}

// ByM49 looks a country up by its UN M49 code.
func (d *Directory) ByM49(m49 int) (models.Country, bool) {
	return d.areas.Country(m49)
}

// Lookup resolves any supported identifier: ISO3, ISO2, FIPS, M49 or name.
func (d *Directory) Lookup(key string) (models.Country, bool) {
	key = strings.TrimSpace(key)
	if c, ok := d.ByISO3(key); ok {
		return c, true
	}
	if c, ok := d.ByISO2(key); ok {
		return c, true
	}
	if c, ok := d.ByFIPS(key); ok {
		return c, true
	}
	if m49, ok := parseM49(key); ok {
		if c, ok := d.ByM49(m49); ok {
			return c, true
		}
	}
	return d.ByName(key)
}

// Countries returns the full country table.
func (d *Directory) Countries() []models.Country {
	out := make([]models.Country, len(d.countries))
	copy(out, d.countries)
	return out
}

// Group returns the group with the given code (case-insensitive).
func (d *Directory) Group(code string) (models.Group, error) {
	g, ok := d.groups[strings.ToLower(code)]
	if !ok {
		return models.Group{}, fmt.Errorf("%w: %q", ErrGroupNotFound, code)
	}
	return g, nil
}

// Members returns the member countries of a group.
func (d *Directory) Members(code string) ([]models.Country, error) {
	g, err := d.Group(code)
	if err != nil {
		return nil, err
	}
	return g.Countries, nil
}

// Groups returns all group codes, sorted.
func (d *Directory) Groups() []string {
	codes := make([]string, 0, len(d.groups))
	for code := range d.groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// AreaCodes returns the M49 table built from the country reference data.
func (d *Directory) AreaCodes() *AreaCodes { return d.areas }

// --- loading ---

// countryCodeEntry is one record of the country code table.
type countryCodeEntry struct {
	Name string `json:"NAME.EN"`
	ISO2 string `json:"ISO_3166_2"`
	ISO3 string `json:"ISO_3166_3"`
	FIPS string `json:"FIPS_GEC"`
	M49  any    `json:"M49"`
}

// groupFile is the on-disk shape of one group definition.
type groupFile struct {
	GID         string        `json:"gid"`
	Acronym     string        `json:"acronym"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Countries   []groupMember `json:"countries"`
}

type groupMember struct {
	Name string `json:"name"`
	ISO  string `json:"ISO"`
	ISO3 string `json:"ISO3"`
	M49  any    `json:"M49"`
}

// readJSONC reads a JSON file that may contain comments and trailing commas.
func readJSONC(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), dst); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// LoadCountries reads the country code table.
func LoadCountries(path string) ([]models.Country, error) {
	var entries []countryCodeEntry
	if err := readJSONC(path, &entries); err != nil {
		return nil, err
	}
	countries := make([]models.Country, 0, len(entries))
	for _, e := range entries {
		m49, _ := AreaCode(e.M49)
		countries = append(countries, models.Country{
			Name: e.Name,
			ISO2: e.ISO2,
			ISO3: e.ISO3,
			FIPS: e.FIPS,
			M49:  m49,
		})
	}
	return countries, nil
}

// LoadGroup reads one group file. The group code defaults to the file name
// when the file has no gid.
func LoadGroup(path string) (models.Group, error) {
	var f groupFile
	if err := readJSONC(path, &f); err != nil {
		return models.Group{}, err
	}
	code := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	g := models.Group{
		Code:        strings.ToLower(code),
		Acronym:     f.Acronym,
		Name:        f.Name,
		Description: f.Description,
		Countries:   make([]models.Country, 0, len(f.Countries)),
	}
	if g.Name == "" {
		g.Name = f.GID
	}
	for _, m := range f.Countries {
		m49, _ := AreaCode(m.M49)
		g.Countries = append(g.Countries, models.Country{Name: m.Name, ISO2: m.ISO, ISO3: m.ISO3, M49: m49})
	}
	return g, nil
}

// LoadGroups reads every *.json file in dir.
func LoadGroups(dir string) ([]models.Group, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	groups := make([]models.Group, 0, len(paths))
	for _, p := range paths {
		g, err := LoadGroup(p)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Load builds a Directory from the country code table and groups directory.
func Load(countryCodesPath, groupsDir string) (*Directory, error) {
	countries, err := LoadCountries(countryCodesPath)
	if err != nil {
		return nil, err
	}
	groups, err := LoadGroups(groupsDir)
	if err != nil {
		return nil, err
	}
	return New(countries, groups), nil
}

// AreaCode parses a numeric area code decoded from JSON, either a number
// or a string such as "'004".
func AreaCode(v any) (int, bool) {
	if s, ok := v.(string); ok {
		return parseM49(s)
	}
	f, ok := models.ParseNumber(v)
	if !ok || f <= 0 {
		return 0, false
	}
	return int(f), true
}
