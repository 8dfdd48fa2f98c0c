package main

// tornet builds a torus from an experiment file, drives it with synthetic
// traffic, and reports per-link statistics.

import (
	"flag"
	"fmt"
	"os"

	"github.com/iti/evt/evtm"
	"github.com/iti/tornet"
	"github.com/tebeka/atexit"
)

func main() {
	expFile := flag.String("exp", "", "experiment file (.yaml, .yml or .json)")
	cycles := flag.Int64("cycles", 1000000, "cycle limit")
	pattern := flag.String("pattern", "uniform", "traffic pattern: fixed, uniform, neighbor, alltoall")
	dest := flag.Int("dest", 0, "destination of the fixed pattern")
	vc := flag.Int("vc", 0, "NIC virtual channel to inject on")
	rate := flag.Float64("rate", 0.05, "injection probability per cycle")
	expon := flag.Bool("expon", false, "draw exponential inter-arrival gaps with mean 1/rate")
	words := flag.Int("words", 16, "packet size in words")
	count := flag.Int("count", 100, "packets per node, 0 for no limit")
	reportFile := flag.String("report", "", "write the run report here (.yaml or .json)")
	traceFile := flag.String("trace", "", "write packet and router traces here (.yaml or .json)")
	seed := flag.String("seed", "tornet", "name prefix of the random number streams")
	flag.Parse()

	if len(*expFile) == 0 {
		fmt.Fprintln(os.Stderr, "tornet: -exp is required")
		flag.Usage()
		atexit.Exit(2)
	}
	if err := tornet.CheckFiles([]string{*expFile}, true); err != nil {
		fail(err)
	}
	if err := tornet.CheckFiles([]string{*reportFile, *traceFile}, false); err != nil {
		fail(err)
	}

	expCfg, err := tornet.LoadExpCfg(*expFile)
	if err != nil {
		fail(err)
	}

	traceMgr := tornet.CreateTraceManager(expCfg.Name, len(*traceFile) > 0)
	evtMgr := evtm.New()
	net, err := tornet.BuildNetwork(evtMgr, expCfg, traceMgr)
	if err != nil {
		fail(err)
	}
	net.AttachSinks()
	tc := tornet.TrafficCfg{Pattern: *pattern, Dest: *dest, NicVC: *vc, Words: *words,
		Count: *count, Rate: *rate, Exponential: *expon}
	if err := net.AttachTraffic(tc, *seed); err != nil {
		fail(err)
	}

	var report *tornet.NetReport
	if len(*reportFile) > 0 {
		atexit.Register(func() {
			if report == nil {
				return
			}
			if err := report.WriteToFile(*reportFile); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		})
	}
	if len(*traceFile) > 0 {
		atexit.Register(func() {
			if err := traceMgr.WriteToFile(*traceFile, true); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		})
	}

	drained := net.Run(*cycles)
	report = net.Finish()
	outOfOrder := int64(0)
	for _, snk := range net.Sinks {
		outOfOrder += snk.OutOfOrder
	}

	fmt.Printf("%s: %d nodes (%dx%dx%d), %d cycles at %g Hz\n", report.Name, net.NumNodes(),
		net.Dims[0], net.Dims[1], net.Dims[2], report.Cycles, report.ClockHz)
	fmt.Printf("injected %d, delivered %d, out of order %d, drained %t\n",
		report.Injected, report.Delivered, outOfOrder, drained)
	fmt.Printf("latency: mean %.2f stddev %.2f max %.0f cycles over %d packets\n",
		report.Latency.Mean, report.Latency.StdDev, report.Latency.Max, report.Latency.Count)

	if err := net.CheckInvariants(); err != nil {
		fail(err)
	}
	atexit.Exit(0)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "tornet:", err)
	atexit.Exit(1)
}
