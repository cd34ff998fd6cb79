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

// Iplocbuild assigns ranges of IP addresses to geographic regions and
// renders them as an IP-geolocation feed.
//
// One invocation operates as follows:
//   - read the configuration document (base allocation and override per
//     region, provider-address space, device credentials),
//   - verify that configured base allocations are pairwise disjoint;
//     any overlap aborts the run before a device is contacted,
//   - for every region bound to a route source, query the device twice
//     (the own-announced cycle and the provider-independent cycle) and
//     classify the returned routes,
//   - consolidate: reassign ranges that moved between regions, carve out
//     provider space announced by external ASNs, register small and
//     provider-independent allocations, deduplicate, apply overrides,
//   - write the <outfile>.csv, <outfile>_pi.csv, <outfile>.json and
//     <outfile>_country.json artifacts.
//
// The configuration is read from $HOME/.cfg/iplocbuild.json by default; the
// location can be changed with --config or the IPLOCBUILD_CONFIG environment
// variable. Repeat --verbose for increasingly detailed diagnostics.
package main
