// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Package portpick selects the local TCP port for a tunnel. The derived
// port is a pure function of the database identifier so that repeated runs
// against the same database always claim the same port.
package portpick

import "hash/crc32"

// DefaultPort is used when the operator neither passes an explicit port
// nor asks for a derived one.
const DefaultPort = 7432

// Bounds of the derived port range. Ports below 2000 are avoided to stay
// clear of privileged and well-known service ports.
const (
	derivedMin = 2000
	derivedMax = 65000
)

// DerivedPort maps a database identifier to a port in [2000, 65000].
// The mapping is deterministic across runs and hosts; it is not
// cryptographically random and does not try to avoid ports already in use.
func DerivedPort(identifier string) int {
	sum := crc32.ChecksumIEEE([]byte(identifier))
	return derivedMin + int(sum%uint32(derivedMax-derivedMin+1))
}

// Choose resolves the effective local port from the flag inputs: a derived
// port when random is set, otherwise the explicit port, otherwise the default.
func Choose(identifier string, explicit int, random bool) int {
	if random {
		return DerivedPort(identifier)
	}
	if explicit > 0 {
		return explicit
	}
	return DefaultPort
}
