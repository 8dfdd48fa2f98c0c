package tornet

import (
	"errors"

	"github.com/iti/evt/evtm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func buildNetwork(excfg *ExpCfg) *Network {
	net, err := BuildNetwork(evtm.New(), excfg, nil)
	Expect(err).NotTo(HaveOccurred())
	return net
}

func fixedGen(net *Network, src, dest, nicVC, count int) *TrafficGen {
	tg, err := CreateTrafficGen(net.Hosts[src], net.Dims,
		TrafficCfg{Pattern: "fixed", Dest: dest, NicVC: nicVC, Words: 16, Count: count, Rate: 1.0}, "gen")
	Expect(err).NotTo(HaveOccurred())
	net.AddGen(tg)
	return tg
}

var _ = Describe("Network", func() {
	Context("construction", func() {
		It("should wire every port of every router", func() {
			net := buildNetwork(torusCfg([3]int{3, 2, 2}))
			Expect(net.NumNodes()).To(Equal(12))
			for _, r := range net.Routers {
				for d := XPos; d <= Host; d++ {
					Expect(r.links[d]).NotTo(BeNil())
					Expect(r.CreditCapacity(d)).To(Equal(128))
				}
			}
			Expect(net.Eng.ClockHz).To(Equal(1e9))
			Expect(net.CheckInvariants()).To(Succeed())
		})

		It("should apply per-router parameters", func() {
			excfg := torusCfg([3]int{2, 1, 1})
			Expect(excfg.AddParameter("Router", []AttrbStruct{{AttrbName: "id", AttrbValue: "1"}},
				"InputQSize_flits", "40")).To(Succeed())
			Expect(excfg.AddParameter("Network", Wildcard(), "clock", "2GHz")).To(Succeed())
			net := buildNetwork(excfg)
			Expect(net.Routers[0].CreditCapacity(XPos)).To(Equal(40))
			Expect(net.Routers[1].CreditCapacity(XPos)).To(Equal(128))
			Expect(net.Eng.ClockHz).To(Equal(2e9))
		})

		It("should report configuration problems", func() {
			excfg := CreateExpCfg("bad")
			Expect(excfg.AddParameter("Network", Wildcard(), "network.xDimSize", "2")).To(Succeed())
			_, err := BuildNetwork(evtm.New(), excfg, nil)
			Expect(err).To(BeAssignableToTypeOf(&ConfigError{}))

			excfg = torusCfg([3]int{2, 1, 1})
			Expect(excfg.AddParameter("Router", Wildcard(), "Router2NodeQSize_flits", "8")).To(Succeed())
			_, err = BuildNetwork(evtm.New(), excfg, nil)
			Expect(err).To(MatchError(ContainSubstring("Router2NodeQSize_flits")))

			excfg = torusCfg([3]int{2, 1, 1})
			Expect(excfg.AddParameter("Host", Wildcard(), "num_vc", "4")).To(Succeed())
			_, err = BuildNetwork(evtm.New(), excfg, nil)
			Expect(err).To(MatchError(ContainSubstring("num_vc")))

			excfg = torusCfg([3]int{2, 1, 1})
			Expect(excfg.AddParameter("Network", Wildcard(), "clock", "soon")).To(Succeed())
			_, err = BuildNetwork(evtm.New(), excfg, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should verify the route tables before building", func() {
			checked := make([][3]int, 0)
			saved := verifyRoutes
			DeferCleanup(func() { verifyRoutes = saved })
			verifyRoutes = func(dims [3]int) error {
				checked = append(checked, dims)
				return saved(dims)
			}
			buildNetwork(torusCfg([3]int{4, 2, 3}))
			Expect(checked).To(Equal([][3]int{{4, 2, 3}}))

			verifyRoutes = func(dims [3]int) error { return errors.New("route from 0 to 1 ends at 2") }
			_, err := BuildNetwork(evtm.New(), torusCfg([3]int{4, 2, 3}), nil)
			var ce *ConfigError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Param).To(Equal("network.dims"))
			Expect(ce.Value).To(Equal("4x2x3"))
			Expect(ce.Reason).To(ContainSubstring("ends at 2"))
		})
	})

	It("should deliver a single packet one hop away with no contention", func() {
		net := buildNetwork(torusCfg([3]int{2, 2, 2}))
		net.AttachSinks()
		Expect(net.Hosts[0].Send(0, 1, 16, nil)).To(Succeed())

		Expect(net.Run(1000)).To(BeTrue())
		Expect(net.Sinks[1].Received).To(Equal(int64(1)))
		Expect(net.Sinks[1].BySource[0]).To(Equal(int64(1)))

		cfg := net.cfgs[0]
		perRouter := cfg.IQLat + cfg.RoutingLat + cfg.OLCBLat + cfg.ILCBLat
		nr := net.Finish()
		Expect(nr.Latency.Count).To(Equal(1))
		Expect(nr.Latency.Max).To(Equal(float64(2 * perRouter)))
		Expect(nr.Injected).To(Equal(1))
		Expect(nr.Delivered).To(Equal(1))

		for vc := 0; vc < NumVCs; vc++ {
			Expect(net.Routers[0].Credits(XPos, vc)).To(Equal(net.Routers[0].CreditCapacity(XPos)))
			Expect(net.Routers[1].Credits(Host, vc)).To(Equal(net.Routers[1].CreditCapacity(Host)))
		}
		Expect(net.Hosts[0].Tokens(0)).To(Equal(net.Hosts[0].MaxTokens()))
	})

	It("should change VC where a packet continues through the dateline", func() {
		excfg := torusCfg([3]int{4, 1, 1})
		Expect(excfg.AddParameter("Router", Wildcard(), "routing.xDateline", "0")).To(Succeed())
		net := buildNetwork(excfg)
		net.AttachSinks()

		// 3 -> 1 is two hops either way, so it goes +x through router 0
		Expect(net.Hosts[3].Send(0, 1, 16, nil)).To(Succeed())
		Expect(net.Run(1000)).To(BeTrue())
		Expect(net.Sinks[1].Received).To(Equal(int64(1)))

		nr := net.Finish()
		Expect(nr.Routers[0].Link(XNeg).RxFlitsVC).To(Equal([]int64{8, 0, 0, 0}))
		Expect(nr.Routers[0].Link(XPos).TxFlits).To(Equal(int64(8)))
		Expect(nr.Routers[1].Link(XNeg).RxFlitsVC).To(Equal([]int64{0, 0, 8, 0}))
		Expect(nr.Routers[2].Link(XNeg).RxFlits).To(BeZero())
	})

	It("should drain a saturated ring without deadlock", func() {
		net := buildNetwork(torusCfg([3]int{8, 1, 1}))
		net.AttachSinks()
		net.WatchInvariants()
		Expect(net.AttachTraffic(TrafficCfg{Pattern: "uniform", Words: 2 * PktSize, Count: 100, Rate: 1.0}, "ring")).To(Succeed())

		Expect(net.Run(200000)).To(BeTrue())
		nr := net.Finish()
		Expect(nr.Injected).To(Equal(800))
		Expect(nr.Delivered).To(Equal(800))
		for _, snk := range net.Sinks {
			Expect(snk.OutOfOrder).To(BeZero())
		}
		Expect(net.CheckInvariants()).To(Succeed())
	})

	It("should account for every credit after saturating a link", func() {
		excfg := torusCfg([3]int{2, 1, 1})
		Expect(excfg.AddParameter("Router", Wildcard(), "InputQSize_flits", "36")).To(Succeed())
		net := buildNetwork(excfg)
		net.AttachSinks()
		net.WatchInvariants()
		fixedGen(net, 0, 1, 0, 200)

		Expect(net.Run(100000)).To(BeTrue())
		Expect(net.Sinks[1].Received).To(Equal(int64(200)))
		Expect(net.Sinks[1].OutOfOrder).To(BeZero())

		nr := net.Finish()
		Expect(nr.Routers[0].Link(XPos).TxFlits).To(Equal(int64(200 * 8)))
		Expect(nr.Routers[1].Link(XNeg).RxFlits).To(Equal(int64(200 * 8)))
		for vc := 0; vc < NumVCs; vc++ {
			Expect(net.Routers[0].Credits(XPos, vc)).To(Equal(36))
			Expect(net.Routers[1].InputQueueFlits(XNeg, vc)).To(BeZero())
		}
	})

	It("should share a congested host port evenly between the links feeding it", func() {
		net := buildNetwork(torusCfg([3]int{8, 1, 1}))
		net.AttachSinks()
		for src := 1; src < 8; src++ {
			fixedGen(net, src, 0, 0, 0)
		}

		var start, end map[int]int64
		snapshot := func() map[int]int64 {
			m := make(map[int]int64)
			for src, n := range net.Sinks[0].BySource {
				m[src] = n
			}
			return m
		}
		net.Eng.RegisterClock(&atCycle{cycle: 5000, fn: func() { start = snapshot() }})
		net.Eng.RegisterClock(&atCycle{cycle: 15000, fn: func() { end = snapshot() }})
		net.Eng.Run(15100)

		// sources 1-3 arrive on the +x port of router 0, sources 4-7 on the -x port
		var fromPos, fromNeg int64
		for src := 1; src < 8; src++ {
			got := end[src] - start[src]
			Expect(got).To(BeNumerically(">", 0), "source %d starved", src)
			if src < 4 {
				fromPos += got
			} else {
				fromNeg += got
			}
		}
		total := fromPos + fromNeg
		Expect(float64(total)).To(BeNumerically(">=", 0.9*10000/8))
		Expect(float64(fromNeg) / float64(total)).To(BeNumerically("~", 0.5, 0.05))
	})

	It("should deliver all-to-all traffic exactly once", func() {
		net := buildNetwork(torusCfg([3]int{4, 4, 4}))
		net.AttachSinks()
		net.WatchInvariants()
		Expect(net.AttachTraffic(TrafficCfg{Pattern: "alltoall", Words: 16, Rate: 0.25}, "a2a")).To(Succeed())

		Expect(net.Run(500000)).To(BeTrue())
		for dest, snk := range net.Sinks {
			Expect(snk.Received).To(Equal(int64(63)))
			Expect(snk.OutOfOrder).To(BeZero())
			for src := 0; src < 64; src++ {
				if src == dest {
					Expect(snk.BySource).NotTo(HaveKey(src))
				} else {
					Expect(snk.BySource[src]).To(Equal(int64(1)))
				}
			}
		}
		nr := net.Finish()
		Expect(nr.Delivered).To(Equal(64 * 63))
		Expect(nr.Latency.Count).To(Equal(64 * 63))
		Expect(nr.Latency.Mean).To(BeNumerically(">", 0))
	})
})
