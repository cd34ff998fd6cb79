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

// Package config loads the iplocbuild configuration document. The document
// can be YAML or JSON (JSON being a YAML subset); the original deployments
// use ~/.cfg/iplocbuild.json.
package config

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/go-errors/errors"
	yamlv2 "gopkg.in/yaml.v2"
)

const (
	// ConfigPathEnvVar overrides the default configuration file location.
	ConfigPathEnvVar = "IPLOCBUILD_CONFIG"

	// defaultConfigFile is looked up under $HOME.
	defaultConfigFile = ".cfg/iplocbuild.json"
)

// Config is the top-level configuration document.
type Config struct {
	// Username and Password are passed opaquely to the route querier.
	Username string `json:"username"`
	Password string `json:"password"`

	// PASpace lists the CIDRs of the operator's own provider-address space.
	PASpace []string `json:"paspace"`

	// Cities maps region name to its configuration.
	Cities map[string]*City `json:"cities"`

	// CityOrder holds the city names in document enumeration order. It is
	// reconstructed during Load, not part of the document itself.
	CityOrder []string `json:"-"`
}

// City configures one region.
type City struct {
	// Country the region belongs to. Required.
	Country string `json:"country"`

	// Region is an optional region/state label used in the CSV feed.
	Region string `json:"region"`

	// CIDRs is the base address allocation of the region. Required.
	CIDRs []string `json:"cidrs"`

	// Override lists ranges that always belong to this region, regardless
	// of any computed assignment.
	Override []string `json:"override"`

	// Community and Device bind the region to a route source. The region
	// is queried only if both are non-empty.
	Community string `json:"community"`
	Device    string `json:"device"`
}

// HasRouteSource returns true if the city is bound to a route source.
func (c *City) HasRouteSource() bool {
	return c.Community != "" && c.Device != ""
}

// DefaultPath returns the configuration file location: the value of the
// IPLOCBUILD_CONFIG environment variable if set, otherwise
// $HOME/.cfg/iplocbuild.json.
func DefaultPath() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	return filepath.Join(os.Getenv("HOME"), defaultConfigFile)
}

// Load reads, parses and validates the configuration document.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("error reading config file %s: %v", path, err)
	}
	return Parse(raw)
}

// Parse parses and validates a raw configuration document.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Errorf("error unmarshaling config: %v", err)
	}

	order, err := cityOrder(raw)
	if err != nil {
		return nil, err
	}
	cfg.CityOrder = order

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the per-city required fields and CIDR syntax.
func (c *Config) validate() error {
	for _, prefix := range c.PASpace {
		if _, _, err := net.ParseCIDR(prefix); err != nil {
			return errors.Errorf("invalid paspace CIDR %q: %v", prefix, err)
		}
	}
	for name, city := range c.Cities {
		if city == nil {
			return errors.Errorf("city %s: empty definition", name)
		}
		if city.Country == "" {
			return errors.Errorf("city %s: country is required", name)
		}
		if len(city.CIDRs) == 0 {
			return errors.Errorf("city %s: cidrs are required", name)
		}
		for _, prefix := range city.CIDRs {
			if _, _, err := net.ParseCIDR(prefix); err != nil {
				return errors.Errorf("city %s: invalid CIDR %q: %v", name, prefix, err)
			}
		}
		for _, prefix := range city.Override {
			if _, _, err := net.ParseCIDR(prefix); err != nil {
				return errors.Errorf("city %s: invalid override CIDR %q: %v", name, prefix, err)
			}
		}
	}
	return nil
}

// cityOrder recovers the document order of the cities mapping keys. The raw
// document is re-read into a yaml.v2 MapSlice, the one mapping representation
// that preserves key order (JSON documents parse the same way, JSON being a
// YAML subset).
func cityOrder(raw []byte) ([]string, error) {
	var doc yamlv2.MapSlice
	if err := yamlv2.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Errorf("error scanning config: %v", err)
	}
	for _, item := range doc {
		if key, _ := item.Key.(string); key != "cities" {
			continue
		}
		cities, ok := item.Value.(yamlv2.MapSlice)
		if !ok {
			return nil, errors.Errorf("cities is not a mapping")
		}
		var order []string
		for _, city := range cities {
			name, ok := city.Key.(string)
			if !ok {
				return nil, errors.Errorf("city name %v is not a string", city.Key)
			}
			order = append(order, name)
		}
		return order, nil
	}
	return nil, nil
}
