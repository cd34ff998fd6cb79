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

// Package routesource queries BGP routes from network devices. A query
// failure never aborts the run; the caller treats it as zero records for
// that cycle. Failures are typed so the cause stays inspectable:
// DialError (connectivity), AuthError (authentication) and DecodeError
// (protocol / reply decoding).
package routesource

import "fmt"

// RouteRecord is one route as returned by a device query. Records are
// ephemeral: they are consumed by the classifier and never persisted.
type RouteRecord struct {
	// Prefix is the destination address, e.g. "10.1.2.0".
	Prefix string

	// PrefixLength is the destination prefix length.
	PrefixLength int

	// ASPath is the raw AS-path text of the best route entry.
	ASPath string

	// Communities is the community set the route carries.
	Communities []string
}

// Querier retrieves the routes announced with the given communities from a
// device.
type Querier interface {
	QueryRoutes(device string, communities []string) ([]RouteRecord, error)
}

// DialError reports that the device could not be reached.
type DialError struct {
	Device string
	Err    error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("connecting to %s failed: %v", e.Device, e.Err)
}

// AuthError reports that the device rejected the configured credentials.
type AuthError struct {
	Device string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v", e.Device, e.Err)
}

// DecodeError reports that the device reply could not be decoded.
type DecodeError struct {
	Device string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding reply from %s failed: %v", e.Device, e.Err)
}
