// Copyright (c) 2019 The iplocbuild Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package export renders the final region allocations into the four output
// artifacts: the per-region CSV feed, the PI-inclusive CSV feed, and the
// per-region and per-country JSON documents.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"

	"github.com/geofeed/iplocbuild/pkg/engine"
	"github.com/geofeed/iplocbuild/pkg/ipset"
)

// RegionExport is the per-region JSON document entry.
type RegionExport struct {
	Country string   `json:"country"`
	Region  string   `json:"region"`
	CIDRs   []string `json:"cidrs"`
	PICidrs []string `json:"piCidrs"`
}

// CountryExport is the per-country JSON document entry.
type CountryExport struct {
	CIDRs   []string `json:"cidrs"`
	PICidrs []string `json:"piCidrs"`
}

// Projector renders final allocations. Regions are expected in their
// configuration enumeration order, after a completed engine run.
type Projector struct {
	regions []*engine.Region
}

// NewProjector returns a projector over the given final regions.
func NewProjector(regions []*engine.Region) *Projector {
	return &Projector{regions: regions}
}

// WriteCSV writes one feed row per final base CIDR of every region:
// cidr,country,region,city, with a trailing empty field and no header.
func (p *Projector) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, region := range p.regions {
		for _, cidr := range cidrStrings(region.Base) {
			if err := cw.Write(feedRow(cidr, region)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePICSV writes one row per CIDR of the union of base and PI space per
// region, same layout as WriteCSV.
func (p *Projector) WritePICSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, region := range p.regions {
		for _, cidr := range cidrStrings(region.Base.Union(region.PISpace)) {
			if err := cw.Write(feedRow(cidr, region)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the region-keyed JSON document, keys sorted.
func (p *Projector) WriteJSON(w io.Writer) error {
	doc := make(map[string]*RegionExport)
	for _, region := range p.regions {
		doc[region.Name] = &RegionExport{
			Country: region.Country,
			Region:  region.Label,
			CIDRs:   cidrStrings(region.Base),
			PICidrs: cidrStrings(region.PISpace),
		}
	}
	return writeIndented(w, doc)
}

// WriteCountryJSON writes the country-keyed JSON document: per country the
// union of all member regions' base and PI CIDRs.
func (p *Projector) WriteCountryJSON(w io.Writer) error {
	bases := make(map[string]*ipset.Set)
	piSpaces := make(map[string]*ipset.Set)
	for _, region := range p.regions {
		if _, ok := bases[region.Country]; !ok {
			bases[region.Country] = ipset.New()
			piSpaces[region.Country] = ipset.New()
		}
		bases[region.Country] = bases[region.Country].Union(region.Base)
		piSpaces[region.Country] = piSpaces[region.Country].Union(region.PISpace)
	}

	doc := make(map[string]*CountryExport)
	for country := range bases {
		doc[country] = &CountryExport{
			CIDRs:   cidrStrings(bases[country]),
			PICidrs: cidrStrings(piSpaces[country]),
		}
	}
	return writeIndented(w, doc)
}

// WriteFiles creates the four artifacts next to each other:
// <basename>.csv, <basename>_pi.csv, <basename>.json and
// <basename>_country.json.
func (p *Projector) WriteFiles(basename string) error {
	outputs := []struct {
		suffix string
		write  func(io.Writer) error
	}{
		{".csv", p.WriteCSV},
		{"_pi.csv", p.WritePICSV},
		{".json", p.WriteJSON},
		{"_country.json", p.WriteCountryJSON},
	}
	for _, out := range outputs {
		file, err := os.Create(basename + out.suffix)
		if err != nil {
			return err
		}
		if err := out.write(file); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}
	return nil
}

// feedRow builds one Google-feed row: ip_range,country,region,city and a
// reserved trailing empty field.
func feedRow(cidr string, region *engine.Region) []string {
	return []string{cidr, region.Country, region.Label, region.Name, ""}
}

// cidrStrings returns the minimal CIDR list of the set with host routes
// filtered out; a single-host range never appears in any output.
func cidrStrings(set *ipset.Set) []string {
	strs := []string{}
	for _, network := range set.Nets() {
		if ones, bits := network.Mask.Size(); ones >= bits {
			continue
		}
		strs = append(strs, network.String())
	}
	return strs
}

// writeIndented marshals v with the 4-space indentation of the feed
// consumers' tooling.
func writeIndented(w io.Writer, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
