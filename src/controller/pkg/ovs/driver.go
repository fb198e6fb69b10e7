// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ovs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/go-openvswitch/ovs"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

// DefaultPollInterval is the default bridge poll period
const DefaultPollInterval = 5 * time.Second

// Config holds OVS backend settings
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Bridges restricts the driver to these bridges; empty means all
	Bridges []string `yaml:"bridges"`

	// Capture opens a packet socket on every bridge port to deliver ARP
	// frames as packet-ins
	Capture bool `yaml:"capture"`

	// Protocols are the OpenFlow versions passed to ovs-ofctl
	Protocols []string `yaml:"protocols"`

	Sudo bool `yaml:"sudo"`
}

// BridgeLister enumerates bridges and their ports. *ovs.VSwitchService
// satisfies it.
type BridgeLister interface {
	ListBridges() ([]string, error)
	ListPorts(bridge string) ([]string, error)
}

// Target receives switch transport callbacks. *switchport.Dispatcher
// satisfies it.
type Target interface {
	ConnectionUp(conn switchport.Conn)
	ConnectionDown(switchID string)
	PacketIn(switchID string, pkt *switchport.PacketIn) bool
}

type bridgeState struct {
	bridge   *Bridge
	captures []*capture
}

// Driver maps local OVS bridges onto switch connections. A bridge appearing
// is a connect, a bridge disappearing is a disconnect.
type Driver struct {
	cfg      Config
	vswitch  BridgeLister
	openflow FlowProgrammer
	runner   Runner
	target   Target

	bridges map[string]*bridgeState
}

// NewDriver creates a driver using the ovs-vsctl and ovs-ofctl tools
func NewDriver(cfg Config, target Target) *Driver {
	var opts []ovs.OptionFunc
	if cfg.Sudo {
		opts = append(opts, ovs.Sudo())
	}
	if len(cfg.Protocols) > 0 {
		opts = append(opts, ovs.Protocols(cfg.Protocols))
	}
	c := ovs.New(opts...)
	return newDriver(cfg, target, c.VSwitch, c.OpenFlow, execRunner{sudo: cfg.Sudo})
}

func newDriver(cfg Config, target Target, vs BridgeLister, of FlowProgrammer, runner Runner) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Driver{
		cfg:      cfg,
		vswitch:  vs,
		openflow: of,
		runner:   runner,
		target:   target,
		bridges:  make(map[string]*bridgeState),
	}
}

// Run polls the bridge list until ctx is done, then disconnects every
// bridge
func (d *Driver) Run(ctx context.Context) error {
	log.Infof("OVS driver started: poll=%s capture=%t", d.cfg.PollInterval, d.cfg.Capture)

	if err := d.Sync(ctx); err != nil {
		log.Warnf("Failed to list OVS bridges: %v", err)
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, name := range d.names() {
				d.disconnect(name)
			}
			log.Info("OVS driver stopped")
			return nil
		case <-ticker.C:
			if err := d.Sync(ctx); err != nil {
				log.Warnf("Failed to list OVS bridges: %v", err)
			}
		}
	}
}

// Sync connects new bridges and disconnects vanished ones
func (d *Driver) Sync(ctx context.Context) error {
	names, err := d.vswitch.ListBridges()
	if err != nil {
		return fmt.Errorf("failed to list bridges: %w", err)
	}

	present := make(map[string]bool, len(names))
	for _, name := range names {
		if !d.wanted(name) {
			continue
		}
		present[name] = true
		if _, ok := d.bridges[name]; !ok {
			d.connect(ctx, name)
		}
	}

	for _, name := range d.names() {
		if !present[name] {
			d.disconnect(name)
		}
	}
	return nil
}

func (d *Driver) wanted(name string) bool {
	if len(d.cfg.Bridges) == 0 {
		return true
	}
	for _, b := range d.cfg.Bridges {
		if b == name {
			return true
		}
	}
	return false
}

func (d *Driver) names() []string {
	names := make([]string, 0, len(d.bridges))
	for name := range d.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Driver) connect(ctx context.Context, name string) {
	st := &bridgeState{
		bridge: &Bridge{name: name, openflow: d.openflow, runner: d.runner, protocols: d.cfg.Protocols},
	}
	d.bridges[name] = st
	d.target.ConnectionUp(st.bridge)

	if d.cfg.Capture {
		st.captures = d.startCaptures(ctx, name)
	}
}

func (d *Driver) disconnect(name string) {
	st, ok := d.bridges[name]
	if !ok {
		return
	}
	for _, c := range st.captures {
		c.Close()
	}
	delete(d.bridges, name)
	d.target.ConnectionDown(name)
}

func (d *Driver) startCaptures(ctx context.Context, bridge string) []*capture {
	ports, err := d.vswitch.ListPorts(bridge)
	if err != nil {
		log.WithField("switch", bridge).Warnf("Capture disabled: failed to list ports: %v", err)
		return nil
	}

	var captures []*capture
	for _, port := range ports {
		ofport, err := d.ofport(ctx, port)
		if err != nil {
			log.WithField("switch", bridge).Warnf("Not capturing %s: %v", port, err)
			continue
		}

		c, err := openCapture(port, ofport, func(pkt *switchport.PacketIn) {
			d.target.PacketIn(bridge, pkt)
		})
		if err != nil {
			log.WithField("switch", bridge).Warnf("Not capturing %s: %v", port, err)
			continue
		}
		captures = append(captures, c)
	}
	log.WithField("switch", bridge).Infof("Capturing ARP on %d ports", len(captures))
	return captures
}

// ofport returns the OpenFlow port number of an interface
func (d *Driver) ofport(ctx context.Context, iface string) (flow.Port, error) {
	out, err := d.runner.Run(ctx, "ovs-vsctl", "get", "Interface", iface, "ofport")
	if err != nil {
		return 0, fmt.Errorf("failed to get ofport: %w", err)
	}
	s := strings.TrimSpace(string(out))
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || flow.Port(n) >= flow.PortMax {
		return 0, fmt.Errorf("invalid ofport %q for %s", s, iface)
	}
	return flow.Port(n), nil
}
