// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/policy"
	"github.com/sdn-microsegment/src/controller/pkg/switchsync"
	"github.com/sdn-microsegment/src/controller/pkg/testutil"
)

var (
	numRules    = flag.Int("rules", 200, "Number of synthetic firewall rules")
	numGroups   = flag.Int("groups", 20, "Number of synthetic IP groups")
	numMembers  = flag.Int("members", 50, "Members per group")
	iterations  = flag.Int("iterations", 100, "Compile iterations")
	numSwitches = flag.Int("switches", 4, "In-memory switches for the resync benchmark")
	seed        = flag.Int64("seed", 1, "Random seed for rule generation")
)

func main() {
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	log.Info("=== SDN Policy Compiler Performance Test ===")
	log.Infof("Rules: %d", *numRules)
	log.Infof("Groups: %d x %d members", *numGroups, *numMembers)
	log.Infof("Iterations: %d", *iterations)
	log.Info("=============================================")

	rules, groups := generatePolicy(rand.New(rand.NewSource(*seed)), *numRules, *numGroups, *numMembers)
	log.Infof("✓ Generated %d rules over %d groups", len(rules), len(groups))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseline := policy.Compile(rules, groups)
	log.Infof("Baseline: %s", baseline.Summary())

	var (
		totalEntries int
		elapsed      time.Duration
		runs         int
	)
	for runs < *iterations {
		if ctx.Err() != nil {
			log.Info("\n=== Test interrupted by user ===")
			break
		}

		start := time.Now()
		res := policy.Compile(rules, groups)
		elapsed += time.Since(start)
		runs++
		totalEntries += len(res.Entries)

		if !reflect.DeepEqual(baseline, res) {
			log.Fatalf("✗ Compile run %d differs from baseline: %s vs %s", runs, res.Summary(), baseline.Summary())
		}
	}

	if runs == 0 {
		log.Warn("No compile runs completed")
		return
	}

	log.Info("\n=== Compile Statistics ===")
	log.Infof("  Runs:              %d", runs)
	log.Infof("  Entries per run:   %d", len(baseline.Entries))
	log.Infof("  Warnings per run:  %d", len(baseline.Warnings))
	log.Infof("  Average per run:   %s", elapsed/time.Duration(runs))
	log.Infof("  Entries per sec:   %.0f", float64(totalEntries)/elapsed.Seconds())
	log.Info("✓ Compile output deterministic across runs")

	if *numSwitches > 0 && ctx.Err() == nil {
		benchmarkResync(ctx, rules, groups, *numSwitches)
	}

	log.Info("\n=== Test Complete ===")
}

// benchmarkResync measures a full reinstall on in-memory switches
func benchmarkResync(ctx context.Context, rules []policy.Rule, groups policy.GroupIndex, n int) {
	log.SetLevel(log.WarnLevel)
	defer log.SetLevel(log.InfoLevel)

	sync := switchsync.New(testutil.NewStaticSource(rules, groups))
	conns := make([]*testutil.FakeConn, 0, n)
	for i := 0; i < n; i++ {
		conn := testutil.NewFakeConn(fmt.Sprintf("s%d", i+1))
		sync.ConnectionUp(ctx, conn)
		conns = append(conns, conn)
	}

	start := time.Now()
	res, err := sync.Resync(ctx)
	elapsed := time.Since(start)
	if err != nil {
		log.Fatalf("Resync failed: %v", err)
	}

	flows := 0
	for _, c := range conns {
		flows += len(c.Table())
	}

	log.SetLevel(log.InfoLevel)
	log.Info("\n=== Resync Statistics ===")
	log.Infof("  Switches:          %d", n)
	log.Infof("  Entries:           %d", len(res.Entries))
	log.Infof("  Flows installed:   %d", flows)
	log.Infof("  Resync time:       %s", elapsed)
}

// generatePolicy builds groups of consecutive addresses and rules mixing
// literal and group references, including a share of invalid fields
func generatePolicy(rng *rand.Rand, nRules, nGroups, nMembers int) ([]policy.Rule, policy.GroupIndex) {
	list := make([]policy.Group, 0, nGroups)
	for g := 0; g < nGroups; g++ {
		members := make([]string, 0, nMembers)
		for m := 0; m < nMembers; m++ {
			members = append(members, fmt.Sprintf("10.%d.%d.%d", g/256, g%256, m%254+1))
		}
		list = append(list, policy.Group{ID: int64(g + 1), Name: fmt.Sprintf("group_%d", g+1), Members: members})
	}
	groups := policy.IndexGroups(list)

	protos := []string{"tcp", "udp", "icmp", "any"}
	ports := []string{"22", "80", "443", "3389", "any"}
	actions := []string{"allow", "deny"}

	address := func() string {
		switch rng.Intn(4) {
		case 0:
			return "any"
		case 1:
			return fmt.Sprintf("192.168.%d.0/24", rng.Intn(256))
		default:
			if nGroups == 0 {
				return "any"
			}
			return policy.GroupRef(int64(rng.Intn(nGroups) + 1))
		}
	}

	rules := make([]policy.Rule, 0, nRules)
	for i := 0; i < nRules; i++ {
		r := policy.Rule{
			ID:       int64(i + 1),
			DlType:   "0x0800",
			NwProto:  protos[rng.Intn(len(protos))],
			TpSrc:    "any",
			TpDst:    ports[rng.Intn(len(ports))],
			NwSrc:    address(),
			NwDst:    address(),
			Action:   actions[rng.Intn(len(actions))],
			Priority: rng.Intn(1000),
		}
		if r.NwProto == "icmp" || r.NwProto == "any" {
			r.TpDst = "any"
		}
		// One in fifty rules carries an unparsable port
		if rng.Intn(50) == 0 {
			r.TpDst = "http"
		}
		rules = append(rules, r)
	}
	return rules, groups
}
