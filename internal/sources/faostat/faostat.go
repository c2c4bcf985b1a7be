// Package faostat implements the FAOSTAT source. Each indicator needs a
// domain, item and element triple in its catalogue params; all group
// countries are requested at once by UN M49 area code.
package faostat

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/landlinked/internal/directory"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/pkg/models"
)

const (
	DefaultBaseURL = "https://fenixservices.fao.org/faostat/api/v1/en"
	DefaultDelay   = 500 * time.Millisecond
	DefaultTimeout = 30 * time.Second
)

// AreaCodes maps countries to UN M49 codes and back.
type AreaCodes interface {
	M49(iso3 string) (int, bool)
	Country(m49 int) (models.Country, bool)
}

// Plugin is the FAOSTAT source.
type Plugin struct {
	source.Base
	areas AreaCodes
}

// New creates the FAOSTAT plugin.
func New(s source.Settings, cat source.Catalogue, areas AreaCodes) *Plugin {
	s.Name = models.SourceFAOSTAT
	s.URL = "https://www.fao.org/faostat"
	s.DB = "FAOSTAT"
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Delay == 0 {
		s.Delay = DefaultDelay
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.StartYear == 0 {
		s.StartYear = 2010
	}
	if s.EndYear == 0 {
		s.EndYear = 2025
	}
	return &Plugin{Base: source.NewBase(s, cat), areas: areas}
}

type response struct {
	Data []dataPoint `json:"data"`
}

type dataPoint struct {
	AreaCodeM49 any    `json:"Area Code (M49)"`
	AreaCode    any    `json:"Area Code"`
	Year        any    `json:"Year"`
	Value       any    `json:"Value"`
	Unit        string `json:"Unit"`
}

func (d dataPoint) area() (int, bool) {
	if d.AreaCodeM49 != nil {
		return directory.AreaCode(d.AreaCodeM49)
	}
	return directory.AreaCode(d.AreaCode)
}

type params struct{ domain, item, element string }

func queryParams(ind models.Indicator) (params, error) {
	p := params{
		domain:  ind.Param(models.ParamFAODomain, ""),
		item:    ind.Param(models.ParamFAOItem, ""),
		element: ind.Param(models.ParamFAOElement, ""),
	}
	var missing []string
	if p.domain == "" {
		missing = append(missing, models.ParamFAODomain)
	}
	if p.item == "" {
		missing = append(missing, models.ParamFAOItem)
	}
	if p.element == "" {
		missing = append(missing, models.ParamFAOElement)
	}
	if len(missing) > 0 {
		return p, fmt.Errorf("%s: %w: %s needs %s", models.SourceFAOSTAT, source.ErrMissingParams, ind.Code, strings.Join(missing, ", "))
	}
	return p, nil
}

func (p *Plugin) dataURL(q params, areas []string) string {
	start, end := p.Years()
	years := make([]string, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, strconv.Itoa(y))
	}
	v := url.Values{}
	v.Set("area", strings.Join(areas, ","))
	v.Set("element", q.element)
	v.Set("item", q.item)
	v.Set("year", strings.Join(years, ","))
	return fmt.Sprintf("%s/data/%s?%s", strings.TrimRight(p.BaseURL(), "/"), url.PathEscape(q.domain), v.Encode())
}

// FetchIndicator implements source.Plugin.
func (p *Plugin) FetchIndicator(ctx context.Context, code, group string, countries []models.Country) (*models.CacheEntry, error) {
	ind, err := p.Require(code)
	if err != nil {
		return nil, err
	}
	q, err := queryParams(ind)
	if err != nil {
		return nil, err
	}

	var areas []string
	for _, c := range countries {
		m49, ok := p.areas.M49(c.ISO3)
		if !ok {
			p.Logger().Debug("no area code", "country", c.Name, "iso3", c.ISO3)
			continue
		}
		areas = append(areas, strconv.Itoa(m49))
	}
	if len(areas) == 0 {
		return nil, fmt.Errorf("%s: %w: no group country has an area code", p.Name(), source.ErrNoData)
	}

	var body response
	if err := p.GetJSON(ctx, p.dataURL(q, areas), &body); err != nil {
		return nil, err
	}

	start, end := p.Years()
	var obs []models.Observation
	for _, dp := range body.Data {
		year, ok := source.Year(dp.Year)
		if !ok || !source.InRange(year, start, end) {
			continue
		}
		value, ok := models.ParseNumber(dp.Value)
		if !ok {
			continue
		}
		m49, ok := dp.area()
		if !ok {
			continue
		}
		country, ok := p.areas.Country(m49)
		if !ok {
			continue
		}
		unit := dp.Unit
		if unit == "" {
			unit = ind.Unit
		}
		obs = append(obs, source.NewObservation(ind, country, year, value, unit))
	}
	return source.NewEntry(p.Name(), code, obs)
}
