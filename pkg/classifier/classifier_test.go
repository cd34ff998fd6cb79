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

package classifier

import (
	"net"
	"testing"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"

	"github.com/geofeed/iplocbuild/pkg/ipset"
	"github.com/geofeed/iplocbuild/pkg/routesource"
)

func network(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

func paSpace(cidrs ...string) *ipset.Set {
	s, err := ipset.FromStrings(cidrs)
	if err != nil {
		panic(err)
	}
	return s
}

func newClassifier(pa *ipset.Set) *Classifier {
	return New(pa, logrus.DefaultLogger(), 0)
}

func TestParseOrigin(t *testing.T) {
	RegisterTestingT(t)

	origin, err := ParseOrigin("AS path: I (Originator)")
	Expect(err).To(BeNil())
	Expect(origin.Kind).To(Equal(OriginInternal))
	Expect(origin.String()).To(Equal("I"))

	origin, err = ParseOrigin("AS path: ? (Aggregator)")
	Expect(err).To(BeNil())
	Expect(origin.Kind).To(Equal(OriginUnknown))

	origin, err = ParseOrigin("AS path: 65001 65000 (Recorded)")
	Expect(err).To(BeNil())
	Expect(origin.Kind).To(Equal(OriginExternal))
	Expect(origin.ASN).To(BeEquivalentTo(65001))
	Expect(origin.String()).To(Equal("65001"))

	// only the first token determines the origin
	origin, err = ParseOrigin("AS path: I 65000 (Originator)")
	Expect(err).To(BeNil())
	Expect(origin.Kind).To(Equal(OriginInternal))
}

func TestParseOriginRejectsMalformedText(t *testing.T) {
	RegisterTestingT(t)

	for _, text := range []string{
		"",
		"not an as path",
		"AS path:",
		"AS path: I", // missing trailing annotation
		"AS path: {65001} (Recorded)",
	} {
		_, err := ParseOrigin(text)
		Expect(err).To(HaveOccurred(), "expected parse failure for %q", text)
		Expect(err).To(BeAssignableToTypeOf(&ASPathError{}))
	}
}

func TestOwnModeTakesEverything(t *testing.T) {
	RegisterTestingT(t)

	c := newClassifier(paSpace("10.0.0.0/8"))
	own, carved := c.Classify([]routesource.RouteRecord{
		{Prefix: "10.0.5.0", PrefixLength: 24, ASPath: "AS path: I (Originator)"},
		{Prefix: "192.168.1.0", PrefixLength: 24, ASPath: "AS path: 65001 (Recorded)"},
	}, false)

	// piMode off: no PA-space or origin test is applied
	Expect(own.ContainsNet(network("10.0.5.0/24"))).To(BeTrue())
	Expect(own.ContainsNet(network("192.168.1.0/24"))).To(BeTrue())
	Expect(carved.IsEmpty()).To(BeTrue())
}

func TestHostRoutesAreDiscarded(t *testing.T) {
	RegisterTestingT(t)

	c := newClassifier(paSpace("10.0.0.0/8"))
	own, carved := c.Classify([]routesource.RouteRecord{
		{Prefix: "10.0.5.1", PrefixLength: 32, ASPath: "AS path: I (Originator)"},
	}, false)
	Expect(own.IsEmpty()).To(BeTrue())
	Expect(carved.IsEmpty()).To(BeTrue())

	own, carved = c.Classify([]routesource.RouteRecord{
		{Prefix: "10.0.5.1", PrefixLength: 32, ASPath: "AS path: 65001 (Recorded)"},
	}, true)
	Expect(own.IsEmpty()).To(BeTrue())
	Expect(carved.IsEmpty()).To(BeTrue())
}

func TestPIModeOutsidePASpace(t *testing.T) {
	RegisterTestingT(t)

	c := newClassifier(paSpace("10.0.0.0/8"))
	own, carved := c.Classify([]routesource.RouteRecord{
		{Prefix: "192.168.1.0", PrefixLength: 24, ASPath: "AS path: 65001 (Recorded)"},
	}, true)

	// genuine third-party space, no origin test applied
	Expect(own.ContainsNet(network("192.168.1.0/24"))).To(BeTrue())
	Expect(carved.IsEmpty()).To(BeTrue())
}

func TestPIModeInternalOriginDiscarded(t *testing.T) {
	RegisterTestingT(t)

	c := newClassifier(paSpace("10.0.0.0/8"))
	own, carved := c.Classify([]routesource.RouteRecord{
		{Prefix: "10.0.5.0", PrefixLength: 24, ASPath: "AS path: I 65000 (Originator)"},
		{Prefix: "10.0.6.0", PrefixLength: 24, ASPath: "AS path: ? (Aggregator)"},
	}, true)

	Expect(own.IsEmpty()).To(BeTrue())
	Expect(carved.IsEmpty()).To(BeTrue())
}

func TestPIModeExternalOriginCarved(t *testing.T) {
	RegisterTestingT(t)

	c := newClassifier(paSpace("10.0.0.0/8"))
	own, carved := c.Classify([]routesource.RouteRecord{
		{Prefix: "10.0.5.0", PrefixLength: 24, ASPath: "AS path: 65001 65000 (Recorded)"},
	}, true)

	Expect(own.IsEmpty()).To(BeTrue())
	Expect(carved.ContainsNet(network("10.0.5.0/24"))).To(BeTrue())
}

// TestMalformedRecordsAreSkipped checks that neither a bad prefix nor
// unparseable AS-path text aborts classification of the remaining records.
func TestMalformedRecordsAreSkipped(t *testing.T) {
	RegisterTestingT(t)

	c := newClassifier(paSpace("10.0.0.0/8"))
	own, carved := c.Classify([]routesource.RouteRecord{
		{Prefix: "not-an-address", PrefixLength: 24},
		{Prefix: "10.0.5.0", PrefixLength: 24, ASPath: "garbage"},
		{Prefix: "10.0.6.0", PrefixLength: 24, ASPath: "AS path: 65001 (Recorded)"},
	}, true)

	Expect(own.IsEmpty()).To(BeTrue())
	Expect(carved.Strings()).To(Equal([]string{"10.0.6.0/24"}))
}
