// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package discovery

import (
	"context"
	"net"
	"net/netip"
)

// UnknownOS is reported when classification fails
const UnknownOS = "unknown"

// Classifier determines the operating system of a host. Results are free
// form strings such as "Windows" or "Linux".
type Classifier interface {
	Classify(ctx context.Context, ip netip.Addr, mac net.HardwareAddr) (string, error)
}

// StaticClassifier reports the same OS type for every host
type StaticClassifier string

// Classify returns the configured OS type
func (c StaticClassifier) Classify(context.Context, netip.Addr, net.HardwareAddr) (string, error) {
	if c == "" {
		return UnknownOS, nil
	}
	return string(c), nil
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(ctx context.Context, ip netip.Addr, mac net.HardwareAddr) (string, error)

// Classify calls f
func (f ClassifierFunc) Classify(ctx context.Context, ip netip.Addr, mac net.HardwareAddr) (string, error) {
	return f(ctx, ip, mac)
}
