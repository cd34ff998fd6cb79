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

package routesource

import (
	"bufio"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

const sampleReply = `<rpc-reply xmlns:junos="http://xml.juniper.net/junos/18.4R1/junos">
    <route-information xmlns="http://xml.juniper.net/junos/18.4R1/junos-routing">
        <route-table>
            <table-name>inet.0</table-name>
            <rt junos:style="detail">
                <rt-destination>10.0.5.0</rt-destination>
                <rt-prefix-length>24</rt-prefix-length>
                <rt-entry>
                    <as-path>AS path: I (Originator)</as-path>
                    <communities>
                        <community>8220:1002</community>
                        <community>8220:65404</community>
                    </communities>
                </rt-entry>
                <rt-entry>
                    <as-path>AS path: 65001 (Recorded)</as-path>
                </rt-entry>
            </rt>
            <rt junos:style="detail">
                <rt-destination>172.16.0.0/20</rt-destination>
                <rt-entry>
                    <as-path>AS path: 65001 65000 (Recorded)</as-path>
                </rt-entry>
            </rt>
            <rt junos:style="detail">
                <rt-destination>broken</rt-destination>
            </rt>
        </route-table>
    </route-information>
</rpc-reply>`

func TestDecodeRouteReply(t *testing.T) {
	RegisterTestingT(t)

	records, err := decodeRouteReply([]byte(sampleReply))
	Expect(err).To(BeNil())
	Expect(records).To(HaveLen(2))

	// normalized route: separate destination and prefix length, only the
	// active (first) entry is taken
	Expect(records[0].Prefix).To(Equal("10.0.5.0"))
	Expect(records[0].PrefixLength).To(Equal(24))
	Expect(records[0].ASPath).To(Equal("AS path: I (Originator)"))
	Expect(records[0].Communities).To(Equal([]string{"8220:1002", "8220:65404"}))

	// inlined prefix length in the destination
	Expect(records[1].Prefix).To(Equal("172.16.0.0"))
	Expect(records[1].PrefixLength).To(Equal(20))
	Expect(records[1].ASPath).To(Equal("AS path: 65001 65000 (Recorded)"))
}

func TestDecodeRouteReplyRejectsGarbage(t *testing.T) {
	RegisterTestingT(t)

	_, err := decodeRouteReply([]byte("this is not xml"))
	Expect(err).To(HaveOccurred())
}

func TestRouteToRecordBadPrefixLength(t *testing.T) {
	RegisterTestingT(t)

	_, err := routeToRecord(xmlRoute{Destination: "10.0.0.0", PrefixLength: "abc"})
	Expect(err).To(HaveOccurred())

	_, err = routeToRecord(xmlRoute{Destination: "10.0.0.0"})
	Expect(err).To(HaveOccurred())
}

func TestRouteInformationRPC(t *testing.T) {
	RegisterTestingT(t)

	rpc := routeInformationRPC([]string{"8220:1002", "8220:65404"})
	Expect(rpc).To(HavePrefix("<rpc><get-route-information>"))
	Expect(rpc).To(HaveSuffix("</get-route-information></rpc>"))
	Expect(rpc).To(ContainSubstring("<table>inet.0</table>"))
	Expect(rpc).To(ContainSubstring("<protocol>bgp</protocol>"))
	Expect(rpc).To(ContainSubstring("<level>detail</level>"))
	Expect(rpc).To(ContainSubstring("<community>8220:1002</community><community>8220:65404</community>"))
}

func TestReadFrame(t *testing.T) {
	RegisterTestingT(t)

	r := bufio.NewReader(strings.NewReader("<hello/>]]>]]><rpc-reply/>]]>]]>"))

	frame, err := readFrame(r)
	Expect(err).To(BeNil())
	Expect(string(frame)).To(Equal("<hello/>"))

	frame, err = readFrame(r)
	Expect(err).To(BeNil())
	Expect(string(frame)).To(Equal("<rpc-reply/>"))

	// truncated stream
	r = bufio.NewReader(strings.NewReader("<unterminated"))
	_, err = readFrame(r)
	Expect(err).To(HaveOccurred())
}

func TestQuerierErrorTypes(t *testing.T) {
	RegisterTestingT(t)

	Expect((&DialError{Device: "r1"}).Error()).To(ContainSubstring("r1"))
	Expect((&AuthError{Device: "r1"}).Error()).To(ContainSubstring("r1"))
	Expect((&DecodeError{Device: "r1"}).Error()).To(ContainSubstring("r1"))
}
