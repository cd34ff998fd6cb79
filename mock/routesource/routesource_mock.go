/*
 * // Copyright (c) 2019 The iplocbuild Authors.
 * //
 * // Licensed under the Apache License, Version 2.0 (the "License");
 * // you may not use this file except in compliance with the License.
 * // You may obtain a copy of the License at:
 * //
 * //     http://www.apache.org/licenses/LICENSE-2.0
 * //
 * // Unless required by applicable law or agreed to in writing, software
 * // distributed under the License is distributed on an "AS IS" BASIS,
 * // WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * // See the License for the specific language governing permissions and
 * // limitations under the License.
 */

package routesource

import (
	"strings"
	"sync"

	"github.com/geofeed/iplocbuild/pkg/routesource"
)

// MockQuerier is a scripted implementation of routesource.Querier. Replies
// are keyed by device and community list; every call is recorded so tests
// can assert how (and whether) devices were queried.
type MockQuerier struct {
	mu      sync.Mutex
	replies map[string][]routesource.RouteRecord
	errors  map[string]error
	calls   []QueryCall
}

// QueryCall records one QueryRoutes invocation.
type QueryCall struct {
	Device      string
	Communities []string
}

// NewMockQuerier is a constructor for MockQuerier.
func NewMockQuerier() *MockQuerier {
	return &MockQuerier{
		replies: make(map[string][]routesource.RouteRecord),
		errors:  make(map[string]error),
	}
}

// SetReply sets the records returned for the given device and communities.
func (m *MockQuerier) SetReply(device string, communities []string, records []routesource.RouteRecord) {
	m.replies[callKey(device, communities)] = records
}

// SetError makes the given device and communities query fail.
func (m *MockQuerier) SetError(device string, communities []string, err error) {
	m.errors[callKey(device, communities)] = err
}

// QueryRoutes returns the scripted reply, or no records for unscripted
// calls.
func (m *MockQuerier) QueryRoutes(device string, communities []string) ([]routesource.RouteRecord, error) {
	m.mu.Lock()
	m.calls = append(m.calls, QueryCall{Device: device, Communities: communities})
	m.mu.Unlock()

	key := callKey(device, communities)
	if err := m.errors[key]; err != nil {
		return nil, err
	}
	return m.replies[key], nil
}

// Calls returns all recorded invocations.
func (m *MockQuerier) Calls() []QueryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueryCall(nil), m.calls...)
}

// CallCount returns the number of recorded invocations.
func (m *MockQuerier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func callKey(device string, communities []string) string {
	return device + "|" + strings.Join(communities, ",")
}
