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

// Package classifier turns the raw routes of one device query into two
// disjoint address-range sets: own-announced space and space carved out of
// the provider allocation by an external AS. Malformed records never abort
// a run; they are logged and skipped.
package classifier

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ligato/cn-infra/logging"

	"github.com/geofeed/iplocbuild/pkg/ipset"
	"github.com/geofeed/iplocbuild/pkg/routesource"
)

// aspathPrefix is the literal lead-in of the AS-path text.
const aspathPrefix = "AS path:"

// hostRoutePrefixLen is the narrowest IPv4 allocation; host routes never
// contribute to allocation.
const hostRoutePrefixLen = 32

// OriginKind discriminates the origin of a route's AS path.
type OriginKind int

const (
	// OriginInternal is a route originated inside the operator network
	// (path token "I").
	OriginInternal OriginKind = iota

	// OriginUnknown is a route of incomplete origin (path token "?").
	OriginUnknown

	// OriginExternal is a route originated by an external AS.
	OriginExternal
)

// Origin is the parsed origin of an AS-path text.
type Origin struct {
	Kind OriginKind
	ASN  uint64 // set for OriginExternal only
}

// String returns the origin in its path-token form.
func (o Origin) String() string {
	switch o.Kind {
	case OriginInternal:
		return "I"
	case OriginUnknown:
		return "?"
	default:
		return strconv.FormatUint(o.ASN, 10)
	}
}

// ASPathError reports AS-path text that does not match the expected shape.
type ASPathError struct {
	Text string
}

func (e *ASPathError) Error() string {
	return fmt.Sprintf("unparseable AS path text: %q", e.Text)
}

// ParseOrigin extracts the origin from a raw AS-path text. The text has the
// literal form "AS path: <space-separated tokens> <trailing annotation>";
// only the first token determines the origin.
func ParseOrigin(text string) (Origin, error) {
	rest := strings.TrimPrefix(text, aspathPrefix)
	if rest == text {
		return Origin{}, &ASPathError{Text: text}
	}
	fields := strings.Fields(rest)
	// at least the origin token and the trailing annotation
	if len(fields) < 2 {
		return Origin{}, &ASPathError{Text: text}
	}
	switch token := fields[0]; token {
	case "I":
		return Origin{Kind: OriginInternal}, nil
	case "?":
		return Origin{Kind: OriginUnknown}, nil
	default:
		asn, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return Origin{}, &ASPathError{Text: text}
		}
		return Origin{Kind: OriginExternal, ASN: asn}, nil
	}
}

// Classifier classifies queried routes against the global provider-address
// space.
type Classifier struct {
	paSpace   *ipset.Set
	log       logging.Logger
	verbosity int
}

// New returns a classifier over the given read-only PA-space set.
func New(paSpace *ipset.Set, log logging.Logger, verbosity int) *Classifier {
	return &Classifier{
		paSpace:   paSpace,
		log:       log,
		verbosity: verbosity,
	}
}

// Classify applies the per-record rules and returns the own-announced and
// carved sets. With piMode unset every surviving record is own-announced;
// with piMode set, records inside PA space are either discarded (internal or
// unknown origin) or carved (external origin).
func (c *Classifier) Classify(records []routesource.RouteRecord, piMode bool) (own, carved *ipset.Set) {
	own = ipset.New()
	carved = ipset.New()

	for _, record := range records {
		cidrText := fmt.Sprintf("%s/%d", record.Prefix, record.PrefixLength)
		if c.verbosity >= 3 {
			c.log.Debugf("network %s : mask %d", record.Prefix, record.PrefixLength)
		}

		_, network, err := net.ParseCIDR(cidrText)
		if err != nil {
			c.log.Errorf("skipping malformed route %q: %v", cidrText, err)
			continue
		}

		if record.PrefixLength >= hostRoutePrefixLen {
			if c.verbosity >= 2 {
				c.log.Debugf("ignoring prefix as host route: %s", cidrText)
			}
			continue
		}

		if piMode && c.paSpace.ContainsNet(network) {
			origin, err := ParseOrigin(record.ASPath)
			if err != nil {
				c.log.Errorf("skipping route %s: %v", cidrText, err)
				continue
			}
			if origin.Kind == OriginExternal {
				carved.AddNet(network)
				if c.verbosity >= 1 {
					c.log.Infof("carving out PA space announced by external ASN (%s): %s", origin, cidrText)
				}
				continue
			}
			if c.verbosity >= 1 {
				c.log.Infof("ignoring PI prefix as own PA space: %s", cidrText)
			}
			continue
		}

		own.AddNet(network)
	}
	return own, carved
}
