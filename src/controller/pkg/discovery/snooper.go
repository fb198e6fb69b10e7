// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package discovery

import (
	"context"
	"errors"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

// Config holds snooper settings
type Config struct {
	// SeenHosts bounds the set of already reported (ip, mac) pairs
	SeenHosts int
}

// Host is a learned host location
type Host struct {
	Switch   string    `json:"switch"`
	Port     flow.Port `json:"port"`
	MAC      string    `json:"mac"`
	IP       string    `json:"ip,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Stats are cumulative snooper counters
type Stats struct {
	Packets      uint64 `json:"packets"`
	ARPRequests  uint64 `json:"arp_requests"`
	ARPReplies   uint64 `json:"arp_replies"`
	ICMP         uint64 `json:"icmp"`
	Ignored      uint64 `json:"ignored"`
	Malformed    uint64 `json:"malformed"`
	Discovered   uint64 `json:"discovered"`
	Duplicates   uint64 `json:"duplicates"`
	SubmitErrors uint64 `json:"submit_errors"`
	Flooded      uint64 `json:"flooded"`
	Unicast      uint64 `json:"unicast"`
	SendErrors   uint64 `json:"send_errors"`
	SeenHosts    int    `json:"seen_hosts"`
}

type portKey struct {
	sw  string
	mac string
}

type location struct {
	port     flow.Port
	lastSeen time.Time
}

// Snooper learns host locations from ARP, reports new hosts and forwards
// ARP and ICMP frames like a learning switch
type Snooper struct {
	sink       events.Sink
	classifier Classifier
	seen       *SeenHosts

	mu        sync.RWMutex
	macToPort map[portKey]location
	macToIP   map[string]netip.Addr

	packets, arpRequests, arpReplies, icmp atomic.Uint64
	ignored, malformed                     atomic.Uint64
	discovered, duplicates, submitErrors   atomic.Uint64
	flooded, unicast, sendErrors           atomic.Uint64
}

var _ switchport.Handler = (*Snooper)(nil)

// NewSnooper creates a snooper submitting new hosts to sink
func NewSnooper(cfg Config, sink events.Sink, classifier Classifier) (*Snooper, error) {
	seen, err := NewSeenHosts(cfg.SeenHosts)
	if err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = StaticClassifier(UnknownOS)
	}

	return &Snooper{
		sink:       sink,
		classifier: classifier,
		seen:       seen,
		macToPort:  make(map[portKey]location),
		macToIP:    make(map[string]netip.Addr),
	}, nil
}

// ConnectionUp is a no-op; the synchronizer installs the ARP flow
func (s *Snooper) ConnectionUp(_ context.Context, conn switchport.Conn) {
	log.Debugf("Snooping switch %s", conn.ID())
}

// ConnectionDown forgets the port mappings learned on the switch
func (s *Snooper) ConnectionDown(_ context.Context, switchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.macToPort {
		if k.sw == switchID {
			delete(s.macToPort, k)
		}
	}
	log.Debugf("Forgot hosts learned on switch %s", switchID)
}

// PacketIn handles one frame sent to the controller. Errors are logged and
// never propagate to the transport.
func (s *Snooper) PacketIn(ctx context.Context, conn switchport.Conn, pkt *switchport.PacketIn) {
	s.packets.Add(1)

	frame, err := switchport.ParseFrame(pkt.Data)
	if err != nil {
		s.malformed.Add(1)
		log.WithField("switch", conn.ID()).Warnf("Dropping packet from port %s: %v", pkt.InPort, err)
		return
	}

	switch {
	case frame.IsARPRequest():
		s.arpRequests.Add(1)
		s.handleARPRequest(ctx, conn, pkt, frame)
	case frame.IsARPReply():
		s.arpReplies.Add(1)
		s.learn(conn.ID(), pkt.InPort, frame.ARP.SenderMAC.String(), frame.ARP.SenderIP)
		s.forward(ctx, conn, pkt, frame.Dst.String())
	case frame.IsICMP():
		s.icmp.Add(1)
		s.forward(ctx, conn, pkt, frame.Dst.String())
	default:
		s.ignored.Add(1)
		log.Debugf("Ignoring ethertype %s from switch %s", frame.EtherType, conn.ID())
	}
}

func (s *Snooper) handleARPRequest(ctx context.Context, conn switchport.Conn, pkt *switchport.PacketIn, frame *switchport.Frame) {
	mac := frame.ARP.SenderMAC.String()
	ip := frame.ARP.SenderIP
	s.learn(conn.ID(), pkt.InPort, mac, ip)

	// ARP probes carry no sender address yet
	if ip.IsValid() && !ip.IsUnspecified() {
		s.report(ctx, ip, frame)
	}

	// The target's location is unknown when it is being resolved
	s.send(ctx, conn, flow.PortFlood, pkt)
}

// report submits a discovery event the first time the (ip, mac) pair is
// seen. A failed submission unmarks the pair so a later request retries.
func (s *Snooper) report(ctx context.Context, ip netip.Addr, frame *switchport.Frame) {
	mac := frame.ARP.SenderMAC
	if !s.seen.MarkNew(ip.String(), mac.String()) {
		s.duplicates.Add(1)
		return
	}

	osType, err := s.classifier.Classify(ctx, ip, mac)
	if err != nil || osType == "" {
		log.Warnf("Failed to classify %s: %v", ip, err)
		osType = UnknownOS
	}

	ev := events.Event{
		Kind:   events.OSDiscovered,
		OSType: osType,
		MAC:    mac.String(),
		IP:     ip.String(),
	}
	log.Infof("Received ARP request with source IP %s and source MAC %s", ev.IP, ev.MAC)

	id, err := s.sink.SubmitEvent(ctx, ev)
	if err != nil {
		s.submitErrors.Add(1)
		s.seen.Forget(ev.IP, ev.MAC)
		log.Warnf("Failed to submit discovery event for %s: %v", ev.IP, err)
		return
	}
	s.discovered.Add(1)
	log.Debugf("Discovery event %d submitted for %s (%s)", id, ev.IP, osType)
}

// forward unicasts pkt to the learned port of dst, flooding when unknown
func (s *Snooper) forward(ctx context.Context, conn switchport.Conn, pkt *switchport.PacketIn, dst string) {
	if port, ok := s.PortOf(conn.ID(), dst); ok {
		s.send(ctx, conn, port, pkt)
		return
	}
	s.send(ctx, conn, flow.PortFlood, pkt)
}

func (s *Snooper) send(ctx context.Context, conn switchport.Conn, out flow.Port, pkt *switchport.PacketIn) {
	if err := conn.SendPacket(ctx, out, pkt); err != nil {
		s.sendErrors.Add(1)
		var te *switchport.TransportError
		if !errors.As(err, &te) {
			err = &switchport.TransportError{Switch: conn.ID(), Op: "send_packet", Err: err}
		}
		log.Warn(err)
		return
	}
	if out == flow.PortFlood {
		s.flooded.Add(1)
	} else {
		s.unicast.Add(1)
	}
}

func (s *Snooper) learn(sw string, port flow.Port, mac string, ip netip.Addr) {
	s.mu.Lock()
	key := portKey{sw: sw, mac: mac}
	prev, known := s.macToPort[key]
	s.macToPort[key] = location{port: port, lastSeen: time.Now()}
	if ip.IsValid() && !ip.IsUnspecified() {
		s.macToIP[mac] = ip
	}
	s.mu.Unlock()

	if !known || prev.port != port {
		log.WithField("switch", sw).Infof("Learned %s (%s) on port %s", mac, ip, port)
		if log.IsLevelEnabled(log.DebugLevel) {
			s.logHosts(sw)
		}
	}
}

// PortOf returns the port mac was learned on, on switch sw
func (s *Snooper) PortOf(sw, mac string) (flow.Port, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.macToPort[portKey{sw: sw, mac: mac}]
	return loc.port, ok
}

// Hosts returns every learned host location ordered by switch and port
func (s *Snooper) Hosts() []Host {
	s.mu.RLock()
	hosts := make([]Host, 0, len(s.macToPort))
	for k, loc := range s.macToPort {
		h := Host{Switch: k.sw, Port: loc.port, MAC: k.mac, LastSeen: loc.lastSeen}
		if ip, ok := s.macToIP[k.mac]; ok {
			h.IP = ip.String()
		}
		hosts = append(hosts, h)
	}
	s.mu.RUnlock()

	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Switch != hosts[j].Switch {
			return hosts[i].Switch < hosts[j].Switch
		}
		if hosts[i].Port != hosts[j].Port {
			return hosts[i].Port < hosts[j].Port
		}
		return hosts[i].MAC < hosts[j].MAC
	})
	return hosts
}

func (s *Snooper) logHosts(sw string) {
	log.Debug("+-------------------+--------+-------------------+-----------------+")
	log.Debug("| Switch            | Port   | MAC Address       | IP Address      |")
	log.Debug("+-------------------+--------+-------------------+-----------------+")
	for _, h := range s.Hosts() {
		if h.Switch != sw {
			continue
		}
		ip := h.IP
		if ip == "" {
			ip = "N/A"
		}
		log.Debugf("| %-17s | %-6s | %-17s | %-15s |", h.Switch, h.Port, h.MAC, ip)
	}
	log.Debug("+-------------------+--------+-------------------+-----------------+")
}

// Stats returns a snapshot of the counters
func (s *Snooper) Stats() Stats {
	return Stats{
		Packets:      s.packets.Load(),
		ARPRequests:  s.arpRequests.Load(),
		ARPReplies:   s.arpReplies.Load(),
		ICMP:         s.icmp.Load(),
		Ignored:      s.ignored.Load(),
		Malformed:    s.malformed.Load(),
		Discovered:   s.discovered.Load(),
		Duplicates:   s.duplicates.Load(),
		SubmitErrors: s.submitErrors.Load(),
		Flooded:      s.flooded.Load(),
		Unicast:      s.unicast.Load(),
		SendErrors:   s.sendErrors.Load(),
		SeenHosts:    s.seen.Len(),
	}
}
