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
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ligato/cn-infra/logging"
	"golang.org/x/crypto/ssh"
)

const (
	// netconfDelimiter terminates every NETCONF 1.0 frame.
	netconfDelimiter = "]]>]]>"

	// netconfHello is sent once after the subsystem is established.
	netconfHello = `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">` +
		`<capabilities><capability>urn:ietf:params:xml:ns:netconf:base:1.0</capability></capabilities>` +
		`</hello>`

	defaultSSHPort     = "22"
	defaultDialTimeout = 60 * time.Second
)

// JunosQuerier queries the BGP route table of a Junos device over the
// NETCONF SSH subsystem.
type JunosQuerier struct {
	Username string
	Password string
	Log      logging.Logger

	// DialTimeout bounds the TCP/SSH handshake only; the RPC itself is
	// left to the device.
	DialTimeout time.Duration
}

// NewJunosQuerier returns a querier using the given credentials.
func NewJunosQuerier(username, password string, log logging.Logger) *JunosQuerier {
	return &JunosQuerier{
		Username:    username,
		Password:    password,
		Log:         log,
		DialTimeout: defaultDialTimeout,
	}
}

// QueryRoutes retrieves the detailed inet.0 BGP routes announced with all of
// the given communities.
func (q *JunosQuerier) QueryRoutes(device string, communities []string) ([]RouteRecord, error) {
	client, err := ssh.Dial("tcp", net.JoinHostPort(device, defaultSSHPort), q.sshConfig())
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{Device: device, Err: err}
		}
		return nil, &DialError{Device: device, Err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &DialError{Device: device, Err: err}
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, &DialError{Device: device, Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, &DialError{Device: device, Err: err}
	}
	if err := session.RequestSubsystem("netconf"); err != nil {
		return nil, &DialError{Device: device, Err: err}
	}

	reply, err := q.execRPC(stdin, bufio.NewReader(stdout), routeInformationRPC(communities))
	if err != nil {
		return nil, &DecodeError{Device: device, Err: err}
	}

	records, err := decodeRouteReply(reply)
	if err != nil {
		return nil, &DecodeError{Device: device, Err: err}
	}
	q.Log.Debugf("device %s returned %d routes for communities %v", device, len(records), communities)
	return records, nil
}

// sshConfig builds the client configuration. Device host keys are not
// verified; the tool talks to the operator's own routers over the
// management network.
func (q *JunosQuerier) sshConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: q.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(q.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         q.DialTimeout,
	}
}

// execRPC performs the NETCONF hello exchange, sends one RPC and returns the
// raw reply frame.
func (q *JunosQuerier) execRPC(stdin io.WriteCloser, stdout *bufio.Reader, rpc string) ([]byte, error) {
	if _, err := io.WriteString(stdin, netconfHello+netconfDelimiter); err != nil {
		return nil, err
	}
	// server hello
	if _, err := readFrame(stdout); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(stdin, rpc+netconfDelimiter); err != nil {
		return nil, err
	}
	reply, err := readFrame(stdout)
	if err != nil {
		return nil, err
	}
	stdin.Close()
	return reply, nil
}

// readFrame reads one NETCONF frame up to (and excluding) the delimiter.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == '>' && bytes.HasSuffix(buf.Bytes(), []byte(netconfDelimiter)) {
			return buf.Bytes()[:buf.Len()-len(netconfDelimiter)], nil
		}
	}
}

// routeInformationRPC builds the get-route-information RPC for the detailed
// inet.0 BGP table filtered by the given communities.
func routeInformationRPC(communities []string) string {
	var b strings.Builder
	b.WriteString("<rpc><get-route-information>")
	b.WriteString("<table>inet.0</table><protocol>bgp</protocol><level>detail</level>")
	for _, community := range communities {
		b.WriteString("<community>")
		xml.EscapeText(&b, []byte(community))
		b.WriteString("</community>")
	}
	b.WriteString("</get-route-information></rpc>")
	return b.String()
}

// xmlRouteReply mirrors the subset of the get-route-information reply the
// classifier needs.
type xmlRouteReply struct {
	Tables []xmlRouteTable `xml:"route-information>route-table"`
}

type xmlRouteTable struct {
	Name   string     `xml:"table-name"`
	Routes []xmlRoute `xml:"rt"`
}

type xmlRoute struct {
	Destination  string          `xml:"rt-destination"`
	PrefixLength string          `xml:"rt-prefix-length"`
	Entries      []xmlRouteEntry `xml:"rt-entry"`
}

type xmlRouteEntry struct {
	ASPath      string   `xml:"as-path"`
	Communities []string `xml:"communities>community"`
}

// decodeRouteReply turns one raw rpc-reply into route records. Routes whose
// destination or prefix length cannot be read are dropped individually; only
// an undecodable reply is an error.
func decodeRouteReply(reply []byte) ([]RouteRecord, error) {
	parsed := &xmlRouteReply{}
	if err := xml.Unmarshal(reply, parsed); err != nil {
		return nil, err
	}

	var records []RouteRecord
	for _, table := range parsed.Tables {
		for _, rt := range table.Routes {
			record, err := routeToRecord(rt)
			if err != nil {
				continue
			}
			records = append(records, record)
		}
	}
	return records, nil
}

// routeToRecord extracts one record from an <rt> element. Normalized Junos
// output carries the prefix length separately, but some replies inline it
// into the destination.
func routeToRecord(rt xmlRoute) (RouteRecord, error) {
	prefix := strings.TrimSpace(rt.Destination)
	lengthText := strings.TrimSpace(rt.PrefixLength)
	if idx := strings.IndexByte(prefix, '/'); idx >= 0 {
		lengthText = prefix[idx+1:]
		prefix = prefix[:idx]
	}
	length, err := strconv.Atoi(lengthText)
	if err != nil {
		return RouteRecord{}, fmt.Errorf("route %q: bad prefix length %q", prefix, lengthText)
	}

	record := RouteRecord{
		Prefix:       prefix,
		PrefixLength: length,
	}
	if len(rt.Entries) > 0 {
		record.ASPath = strings.TrimSpace(rt.Entries[0].ASPath)
		record.Communities = rt.Entries[0].Communities
	}
	return record, nil
}
