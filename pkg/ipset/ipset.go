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

// Package ipset implements a set of IPv4 address ranges with the set algebra
// needed by the allocation engine: union, difference, subset tests and
// iteration over the minimal (aggregated) CIDR decomposition.
package ipset

import (
	"fmt"
	"net"
	"sort"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/go-errors/errors"
)

// Set is a set of IPv4 addresses. Internally the set is kept as sorted,
// coalesced, half-open [start, end) ranges, so after every mutation the set
// is already in its minimal form.
type Set struct {
	ranges []ipRange
}

// ipRange is a half-open interval of IPv4 addresses, end exclusive.
// end may be 1<<32, hence uint64.
type ipRange struct {
	start uint64
	end   uint64
}

// New returns a new empty set.
func New() *Set {
	return &Set{}
}

// FromStrings builds a set from a list of CIDR strings.
func FromStrings(cidrs []string) (*Set, error) {
	s := New()
	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			return nil, errors.Errorf("invalid CIDR %q: %v", c, err)
		}
		s.AddNet(network)
	}
	return s, nil
}

// AddNet adds all addresses of the given network to the set.
func (s *Set) AddNet(n *net.IPNet) {
	first, last := cidr.AddressRange(n)
	start, err1 := ipv4ToUint32(first)
	end, err2 := ipv4ToUint32(last)
	if err1 != nil || err2 != nil {
		// non-IPv4 networks are outside of the modeled address family
		return
	}
	s.addRange(uint64(start), uint64(end)+1)
}

// addRange inserts [start, end) and re-normalizes the internal form.
func (s *Set) addRange(start, end uint64) {
	if start >= end {
		return
	}
	s.ranges = append(s.ranges, ipRange{start, end})
	sort.Slice(s.ranges, func(i, j int) bool {
		return s.ranges[i].start < s.ranges[j].start
	})
	merged := s.ranges[:1]
	for _, r := range s.ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}
	s.ranges = merged
}

// Union returns a new set with all addresses of s and o.
func (s *Set) Union(o *Set) *Set {
	res := s.Clone()
	for _, r := range o.ranges {
		res.addRange(r.start, r.end)
	}
	return res
}

// Sub returns a new set with the addresses of s that are not in o.
func (s *Set) Sub(o *Set) *Set {
	res := New()
	j := 0
	for _, r := range s.ranges {
		start := r.start
		for j < len(o.ranges) && o.ranges[j].end <= start {
			j++
		}
		k := j
		for k < len(o.ranges) && o.ranges[k].start < r.end {
			hole := o.ranges[k]
			if hole.start > start {
				res.appendRange(start, hole.start)
			}
			if hole.end > start {
				start = hole.end
			}
			k++
		}
		if start < r.end {
			res.appendRange(start, r.end)
		}
	}
	return res
}

// appendRange appends a range known to come after all existing ones.
func (s *Set) appendRange(start, end uint64) {
	if start >= end {
		return
	}
	if n := len(s.ranges); n > 0 && s.ranges[n-1].end >= start {
		if end > s.ranges[n-1].end {
			s.ranges[n-1].end = end
		}
		return
	}
	s.ranges = append(s.ranges, ipRange{start, end})
}

// RemoveNet removes all addresses of the given network from the set.
func (s *Set) RemoveNet(n *net.IPNet) {
	hole := New()
	hole.AddNet(n)
	s.ranges = s.Sub(hole).ranges
}

// ContainsNet returns true if every address of the given network is in the
// set, i.e. the network is a subset of the set in its summarized form.
func (s *Set) ContainsNet(n *net.IPNet) bool {
	first, last := cidr.AddressRange(n)
	start, err1 := ipv4ToUint32(first)
	end, err2 := ipv4ToUint32(last)
	if err1 != nil || err2 != nil {
		return false
	}
	idx := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].end > uint64(start)
	})
	if idx == len(s.ranges) {
		return false
	}
	r := s.ranges[idx]
	return r.start <= uint64(start) && uint64(end) < r.end
}

// IsEmpty returns true if the set holds no addresses.
func (s *Set) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Equal returns true if both sets hold exactly the same addresses.
func (s *Set) Equal(o *Set) bool {
	if len(s.ranges) != len(o.ranges) {
		return false
	}
	for i, r := range s.ranges {
		if o.ranges[i] != r {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	res := &Set{ranges: make([]ipRange, len(s.ranges))}
	copy(res.ranges, s.ranges)
	return res
}

// Nets returns the minimal list of CIDRs covering the set, in ascending
// address order. This is the classic aggregation: within every range the
// largest possible prefix aligned at the current address is emitted.
func (s *Set) Nets() []*net.IPNet {
	var nets []*net.IPNet
	for _, r := range s.ranges {
		start := r.start
		for start < r.end {
			bits := trailingZeroBits(start)
			for (uint64(1) << bits) > r.end-start {
				bits--
			}
			nets = append(nets, &net.IPNet{
				IP:   uint32ToIpv4(uint32(start)),
				Mask: net.CIDRMask(32-int(bits), 32),
			})
			start += uint64(1) << bits
		}
	}
	return nets
}

// Strings returns the minimal CIDR list as strings.
func (s *Set) Strings() []string {
	nets := s.Nets()
	strs := make([]string, len(nets))
	for i, n := range nets {
		strs[i] = n.String()
	}
	return strs
}

// NetContains returns true if inner is a subset of outer.
func NetContains(outer, inner *net.IPNet) bool {
	outerOnes, _ := outer.Mask.Size()
	innerOnes, _ := inner.Mask.Size()
	return outerOnes <= innerOnes && outer.Contains(inner.IP)
}

// NetStrictlyContains returns true if inner is a strict subset of outer,
// i.e. outer is a supernet of inner and the two are not equal.
func NetStrictlyContains(outer, inner *net.IPNet) bool {
	outerOnes, _ := outer.Mask.Size()
	innerOnes, _ := inner.Mask.Size()
	return outerOnes < innerOnes && outer.Contains(inner.IP)
}

// trailingZeroBits returns the number of trailing zero bits of v, capped at
// 32 so that 0.0.0.0 yields a /0.
func trailingZeroBits(v uint64) uint {
	if v == 0 {
		return 32
	}
	var bits uint
	for v&1 == 0 && bits < 32 {
		v >>= 1
		bits++
	}
	return bits
}

// ipv4ToUint32 is simple utility function for conversion between IPv4 and uint32.
func ipv4ToUint32(ip net.IP) (uint32, error) {
	ip = ip.To4()
	if ip == nil {
		return 0, fmt.Errorf("IP address %v is not an IPv4 address", ip)
	}
	var tmp uint32
	for _, bytePart := range ip {
		tmp = tmp<<8 + uint32(bytePart)
	}
	return tmp, nil
}

// uint32ToIpv4 is simple utility function for conversion between uint32 and IPv4.
func uint32ToIpv4(ip uint32) net.IP {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).To4()
}
