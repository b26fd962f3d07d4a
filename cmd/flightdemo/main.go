// Command flightdemo boots a small local cluster of peers running the
// full stack (link, failure detector, broadcast, election, majority
// voting) and runs one vote end to end, logging every step with the
// colorized demo formatter.
package main

import (
	"fmt"
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/voting"
)

var (
	flightComputers = kingpin.Flag("flight-computers", "number of replicated peers in the cluster").Default("3").Int()
	correctFraction = kingpin.Flag("correct-fraction", "fraction of peers that accept the proposed value").Default("1.0").Float64()
	proposalValue   = kingpin.Flag("value", "value the leader proposes for the vote").Default("ignition").String()
)

func main() {
	kingpin.Parse()

	n := *flightComputers
	if n < 1 {
		fmt.Fprintln(os.Stderr, "flight-computers must be at least 1")
		os.Exit(1)
	}

	registry := telemetry.NewDemoRegistry()
	dir, err := os.MkdirTemp("", "flightdemo-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "creating socket directory:", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	acceptThreshold := acceptanceThreshold(n, *correctFraction)

	peers, err := buildPeers(n, dir, registry, acceptThreshold)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building cluster:", err)
		os.Exit(1)
	}

	for _, p := range peers {
		p.Start()
	}
	defer func() {
		for _, p := range peers {
			p.Stop()
		}
	}()

	leader, ok := peers[0].GetLeader()
	if !ok {
		fmt.Fprintln(os.Stderr, "election did not converge")
		os.Exit(1)
	}

	result := peers[leader].Vote(*proposalValue)
	fmt.Printf("leader=%d value=%q accepted=%v\n", leader, *proposalValue, result)
}

// acceptanceThreshold picks how many of the n peers (by ascending id)
// accept the proposal, approximating correctFraction.
func acceptanceThreshold(n int, correctFraction float64) int {
	if correctFraction < 0 {
		correctFraction = 0
	}
	if correctFraction > 1 {
		correctFraction = 1
	}
	return int(correctFraction*float64(n) + 0.5)
}

func buildPeers(n int, socketDir string, registry *telemetry.Registry, acceptThreshold int) ([]*voting.Voting, error) {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}

	var out []*voting.Voting
	for i := 0; i < n; i++ {
		conf := config.New(i, config.WithSocketDir(socketDir))
		// Every sub-component (link, PFD, broadcast, election) shares
		// this one peer-wide logger; the colorized formatter tags it
		// "VOT" since Voting is the outermost abstraction they're all
		// wired into.
		log := registry.Get(i, "VOT")

		decide := makeDecide(i, acceptThreshold)
		deliver := makeDeliver(i, log)

		v, err := voting.New(conf, ids, log, decide, deliver)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func makeDecide(self, acceptThreshold int) voting.DecideFunc {
	return func(value interface{}) bool {
		return self < acceptThreshold
	}
}

func makeDeliver(self int, log telemetry.Logger) voting.DeliverFunc {
	return func(proposition interface{}) {
		log.Infof("peer %d delivering accepted proposition %v", self, proposition)
	}
}
