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

// Package engine consolidates the configured base allocations with live
// routing data into a final, pairwise-disjoint mapping of region to address
// ranges. The engine runs a fixed sequence of phases over one
// ConsolidationContext: base validation, PA-space load, per-region query
// cycles, per-CIDR folding, small-PI dedup, consolidation and override
// propagation.
package engine

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/ligato/cn-infra/logging"

	"github.com/geofeed/iplocbuild/pkg/classifier"
	"github.com/geofeed/iplocbuild/pkg/config"
	"github.com/geofeed/iplocbuild/pkg/ipset"
	"github.com/geofeed/iplocbuild/pkg/routesource"
)

const (
	// ownCycleMarker is the secondary community appended to the base
	// community when querying a region's own-announced routes.
	ownCycleMarker = "8220:65404"

	// piCycleMarker is the secondary community appended when querying the
	// provider-independent routes of a region.
	piCycleMarker = "8220:65403"
)

// RouteSource binds a region to the device and community used to query its
// routes.
type RouteSource struct {
	Device    string
	Community string
}

// Region is the per-region record of the consolidation run. The configured
// fields come from the configuration document and are never modified; the
// working fields exist only between the query and consolidation phases; the
// final fields are valid once the run completes.
type Region struct {
	// configured
	Name     string
	Country  string
	Label    string
	Base     *ipset.Set
	Override *ipset.Set
	Source   *RouteSource // nil if the region has no route source

	// working
	additions    *ipset.Set
	exclude      *ipset.Set
	piSpace      *ipset.Set
	smallPISpace *ipset.Set
	carvedSpace  *ipset.Set

	// final
	PISpace *ipset.Set
}

// Overlap is one base-allocation conflict between two regions.
type Overlap struct {
	CIDR         string
	Region       string
	FoundInOther string
}

// OverlapError is the fatal configuration error raised when base
// allocations of distinct regions overlap. It carries every conflict found.
type OverlapError struct {
	Overlaps []Overlap
}

func (e *OverlapError) Error() string {
	var b strings.Builder
	b.WriteString("overlapping base allocations:")
	for _, o := range e.Overlaps {
		fmt.Fprintf(&b, " [cidr %s from %s found in %s]", o.CIDR, o.Region, o.FoundInOther)
	}
	return b.String()
}

// ConsolidationContext owns all state of one consolidation run: the region
// collection in configuration enumeration order, the PA-space set and the
// log sink. It is discarded after export.
type ConsolidationContext struct {
	regions   []*Region
	paStrings []string
	paSpace   *ipset.Set
	log       logging.Logger
	verbosity int
}

// NewContext builds the region store from the configuration document.
// Regions keep the document enumeration order.
func NewContext(cfg *config.Config, log logging.Logger, verbosity int) (*ConsolidationContext, error) {
	ctx := &ConsolidationContext{
		paStrings: cfg.PASpace,
		log:       log,
		verbosity: verbosity,
	}

	order := cfg.CityOrder
	if len(order) == 0 {
		for name := range cfg.Cities {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	for _, name := range order {
		city := cfg.Cities[name]
		base, err := ipset.FromStrings(city.CIDRs)
		if err != nil {
			return nil, err
		}
		override, err := ipset.FromStrings(city.Override)
		if err != nil {
			return nil, err
		}
		region := &Region{
			Name:         name,
			Country:      city.Country,
			Label:        city.Region,
			Base:         base,
			Override:     override,
			additions:    ipset.New(),
			exclude:      ipset.New(),
			piSpace:      ipset.New(),
			smallPISpace: ipset.New(),
			carvedSpace:  ipset.New(),
		}
		if city.HasRouteSource() {
			region.Source = &RouteSource{
				Device:    city.Device,
				Community: city.Community,
			}
		}
		ctx.regions = append(ctx.regions, region)
	}
	return ctx, nil
}

// Regions returns the region collection in configuration enumeration order.
func (ctx *ConsolidationContext) Regions() []*Region {
	return ctx.regions
}

// Run executes all phases in their fixed order. The only error it can
// return is the fatal OverlapError from base validation; it is raised
// before any device is contacted.
func (ctx *ConsolidationContext) Run(querier routesource.Querier) error {
	if err := ctx.ValidateBases(); err != nil {
		return err
	}
	if err := ctx.loadPASpace(); err != nil {
		return err
	}
	ctx.runQueries(querier)
	ctx.dedupSmallPI()
	ctx.consolidate()
	ctx.propagateOverrides()
	return nil
}

// ValidateBases verifies that base allocations of distinct regions are
// pairwise disjoint. Every conflicting pair is reported, not just the
// first.
func (ctx *ConsolidationContext) ValidateBases() error {
	var overlaps []Overlap
	for _, region := range ctx.regions {
		for _, network := range region.Base.Nets() {
			for _, other := range ctx.regions {
				if other == region {
					continue
				}
				if other.Base.ContainsNet(network) {
					overlaps = append(overlaps, Overlap{
						CIDR:         network.String(),
						Region:       region.Name,
						FoundInOther: other.Name,
					})
					ctx.log.Errorf("overlapping cidr %s from %s found in %s",
						network, region.Name, other.Name)
				}
			}
		}
	}
	if len(overlaps) > 0 {
		return &OverlapError{Overlaps: overlaps}
	}
	return nil
}

// loadPASpace unions the configured provider-address prefixes into the
// read-only set used by the classifier in PI mode.
func (ctx *ConsolidationContext) loadPASpace() error {
	paSpace, err := ipset.FromStrings(ctx.paStrings)
	if err != nil {
		return err
	}
	ctx.paSpace = paSpace
	return nil
}

// cycleResult carries the classified sets of both query cycles of one
// region back to the coordinating goroutine.
type cycleResult struct {
	own      *ipset.Set
	carved   *ipset.Set
	piOwn    *ipset.Set
	piCarved *ipset.Set
}

// runQueries performs the two query cycles for every region with a route
// source. Queries fan out concurrently as a pure throughput optimization;
// all folding happens afterwards on the coordinating goroutine, in
// configuration order, so the shared region state has a single writer. A
// failed query contributes zero records and never aborts the run.
func (ctx *ConsolidationContext) runQueries(querier routesource.Querier) {
	results := make(map[string]*cycleResult)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, region := range ctx.regions {
		if region.Source == nil {
			continue
		}
		wg.Add(1)
		go func(region *Region) {
			defer wg.Done()
			result := ctx.queryRegion(querier, region)
			mu.Lock()
			results[region.Name] = result
			mu.Unlock()
		}(region)
	}
	wg.Wait()

	for _, region := range ctx.regions {
		result := results[region.Name]
		if result == nil {
			continue
		}
		ctx.foldSet(region, result.own, false, false)
		ctx.foldSet(region, result.carved, false, true)
		ctx.foldSet(region, result.piOwn, true, false)
		ctx.foldSet(region, result.piCarved, true, true)
	}
}

// queryRegion runs the own/small-PI cycle and the external/PI cycle for one
// region and classifies the results.
func (ctx *ConsolidationContext) queryRegion(querier routesource.Querier, region *Region) *cycleResult {
	if ctx.verbosity >= 1 {
		ctx.log.Infof("working on %s, %s, %s", region.Name, region.Country, region.Source.Community)
	}
	cls := classifier.New(ctx.paSpace, ctx.log, ctx.verbosity)
	result := &cycleResult{}

	communities := []string{region.Source.Community, ownCycleMarker}
	records, err := querier.QueryRoutes(region.Source.Device, communities)
	if err != nil {
		ctx.log.Errorf("query for %s failed, continuing without data: %v", region.Name, err)
	} else {
		ctx.reportEmpty(records, communities)
		result.own, result.carved = cls.Classify(records, false)
	}

	communities = []string{region.Source.Community, piCycleMarker}
	records, err = querier.QueryRoutes(region.Source.Device, communities)
	if err != nil {
		ctx.log.Errorf("PI query for %s failed, continuing without data: %v", region.Name, err)
	} else {
		ctx.reportEmpty(records, communities)
		result.piOwn, result.piCarved = cls.Classify(records, true)
	}
	return result
}

// reportEmpty surfaces a query cycle that matched no routes at all; an empty
// cycle is usually a misconfigured community rather than an empty region.
func (ctx *ConsolidationContext) reportEmpty(records []routesource.RouteRecord, communities []string) {
	if len(records) == 0 && ctx.verbosity >= 1 {
		ctx.log.Infof("no prefix found with communities: %s", strings.Join(communities, " "))
	}
}

// foldSet applies the per-CIDR folding rule to every minimal range of the
// classified set.
func (ctx *ConsolidationContext) foldSet(region *Region, set *ipset.Set, piSpace, carvedSpace bool) {
	if set == nil {
		return
	}
	for _, network := range set.Nets() {
		ctx.foldPrefix(region, network, piSpace, carvedSpace)
	}
}

// foldPrefix places one candidate range. A range inside the region's own
// base is a no-op unless it is carved space, in which case it moves to the
// region's exclude and carved sets. A range inside another region's base is
// reassigned from its supernet owner. A range owned by no region is a new
// small or provider-independent allocation.
func (ctx *ConsolidationContext) foldPrefix(region *Region, network *net.IPNet, piSpace, carvedSpace bool) {
	if region.Base.ContainsNet(network) {
		if carvedSpace {
			region.exclude.AddNet(network)
			region.carvedSpace.AddNet(network)
			if ctx.verbosity >= 1 {
				ctx.log.Infof("%s belongs to the correct allocation of %s, %s but is announced by an external ASN",
					network, region.Name, region.Country)
			}
			return
		}
		if ctx.verbosity >= 3 {
			ctx.log.Debugf("%s belongs to the correct allocation: %s, %s", network, region.Name, region.Country)
		}
		return
	}

	// find the supernet owner, scanning in configuration order
	for _, owner := range ctx.regions {
		if !owner.Base.ContainsNet(network) {
			continue
		}
		owner.exclude.AddNet(network)
		if carvedSpace {
			region.carvedSpace.AddNet(network)
			if ctx.verbosity >= 1 {
				ctx.log.Infof("moving %s announced by an external ASN from %s to %s",
					network, owner.Name, region.Name)
			}
		} else {
			region.additions.AddNet(network)
			if ctx.verbosity >= 2 {
				ctx.log.Debugf("moving %s from %s to %s", network, owner.Name, region.Name)
			}
		}
		return
	}

	// no existing allocation covers the range
	if ctx.verbosity >= 2 {
		ctx.log.Debugf("%s is a small allocation or PI range, adding to %s", network, region.Name)
	}
	if piSpace {
		region.piSpace.AddNet(network)
	} else {
		region.smallPISpace.AddNet(network)
	}
}

// dedupSmallPI drops every PI entry that is a strict supernet of an already
// registered small allocation; the broader entry is redundant or erroneous.
func (ctx *ConsolidationContext) dedupSmallPI() {
	union := ipset.New()
	for _, region := range ctx.regions {
		union = union.Union(region.smallPISpace)
	}

	smallNets := union.Nets()
	for _, region := range ctx.regions {
		for _, piNet := range region.piSpace.Nets() {
			for _, small := range smallNets {
				if ipset.NetStrictlyContains(piNet, small) {
					if ctx.verbosity >= 2 {
						ctx.log.Debugf("removing duplicate (containing) PI cidr from %s: %s contains %s",
							region.Name, piNet, small)
					}
					region.piSpace.RemoveNet(piNet)
					break
				}
			}
		}
	}
}

// consolidate folds the working sets into the final base and PI space of
// every region and discards the working state.
func (ctx *ConsolidationContext) consolidate() {
	for _, region := range ctx.regions {
		region.Base = region.Base.Union(region.additions).Sub(region.exclude).Union(region.Override)
		region.PISpace = region.piSpace.Union(region.smallPISpace).Union(region.carvedSpace)

		region.additions = nil
		region.exclude = nil
		region.piSpace = nil
		region.smallPISpace = nil
		region.carvedSpace = nil
		region.Source = nil
	}
}

// propagateOverrides removes every override range from all other regions.
// Override is authoritative and always wins; the removal matches the exact
// range only.
func (ctx *ConsolidationContext) propagateOverrides() {
	for _, region := range ctx.regions {
		for _, network := range region.Override.Nets() {
			for _, other := range ctx.regions {
				if other == region {
					continue
				}
				if other.Base.ContainsNet(network) {
					if ctx.verbosity >= 1 {
						ctx.log.Infof("overridden cidr %s from %s found in base of %s", network, region.Name, other.Name)
					}
					other.Base.RemoveNet(network)
				}
				if other.PISpace.ContainsNet(network) {
					if ctx.verbosity >= 1 {
						ctx.log.Infof("overridden cidr %s from %s found in PI space of %s", network, region.Name, other.Name)
					}
					other.PISpace.RemoveNet(network)
				}
			}
		}
	}
}
