package tornet

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Host adapter", func() {
	var (
		eng *Engine
		h   *HostAdapter
		rtr *farEnd
	)

	build := func(tokens int) {
		eng = newEngine()
		h = CreateHostAdapter(eng, &HostCfg{ID: 1, NumNodes: 4, Tokens: tokens, InboundSize: 2 * MaxPacketSize}, nil)
		rtr = newFarEnd(eng)
		toRtr, toHost := eng.Connect(h, Host, rtr, Host)
		h.ConnectRouter(toRtr)
		rtr.back = toHost
		eng.RegisterClock(h)
		eng.RegisterClock(rtr)
	}

	It("should validate what it is asked to send", func() {
		build(128)
		Expect(h.Send(2, 0, 16, nil)).To(MatchError(ContainSubstring("virtual channel")))
		Expect(h.Send(0, 4, 16, nil)).To(BeAssignableToTypeOf(&RoutingError{}))
		Expect(h.Send(0, 0, 0, nil)).To(HaveOccurred())
		Expect(h.Send(0, 0, 2*MaxPacketSize+1, nil)).To(HaveOccurred())
		Expect(h.Send(0, 0, 2*MaxPacketSize, nil)).To(Succeed())
		Expect(h.Outbound(0)).To(Equal(1))
		Expect(h.Injected).To(Equal(int64(1)))
	})

	It("should pace packets one flit per cycle", func() {
		build(128)
		for i := 0; i < 3; i++ {
			Expect(h.Send(0, 2, 16, nil)).To(Succeed())
		}
		eng.Run(50)

		Expect(rtr.arrivals).To(HaveLen(3))
		cycles := []int64{rtr.arrivals[0].cycle, rtr.arrivals[1].cycle, rtr.arrivals[2].cycle}
		Expect(cycles).To(Equal([]int64{0, 8, 16}))
		Expect(h.Tokens(0)).To(Equal(128 - 24))
		Expect(h.Tokens(1)).To(Equal(128))
	})

	It("should stop when its tokens run out and resume on credit", func() {
		build(MaxPacketSize)
		rtr.creditsAt[40] = []Credit{{VC: 0, Num: 8}}
		for i := 0; i < 3; i++ {
			Expect(h.Send(0, 2, 16, nil)).To(Succeed())
		}
		seen := 0
		eng.RegisterClock(&atCycle{cycle: 35, fn: func() { seen = len(rtr.arrivals) }})
		eng.Run(80)

		Expect(seen).To(Equal(2))
		Expect(rtr.arrivals).To(HaveLen(3))
		Expect(rtr.arrivals[2].cycle).To(BeNumerically(">", 40))
		Expect(h.Tokens(0)).To(Equal(MaxPacketSize - 16))
	})

	It("should alternate between its virtual channels", func() {
		build(128)
		Expect(h.Send(0, 2, 2, nil)).To(Succeed())
		Expect(h.Send(0, 2, 2, nil)).To(Succeed())
		Expect(h.Send(1, 2, 2, nil)).To(Succeed())
		eng.Run(20)

		vcs := make([]int, 0)
		for _, a := range rtr.arrivals {
			vcs = append(vcs, a.vc)
		}
		Expect(vcs).To(Equal([]int{0, 1, 0}))
	})

	It("should queue deliveries by NIC VC and return credits when they are received", func() {
		build(128)
		ev := eng.NewPacketEvent(3, 1, 8, "hello")
		ev.Packet.VC = 2
		ev.Packet.Link = int(Host)
		h.HandleEvent(Host, ev)
		Expect(h.Inbound(1)).To(Equal(1))
		Expect(h.Inbound(0)).To(BeZero())

		pkt, ok := h.Recv(1)
		Expect(ok).To(BeTrue())
		Expect(pkt.SrcNum).To(Equal(3))
		Expect(pkt.Payload).To(Equal("hello"))
		_, ok = h.Recv(1)
		Expect(ok).To(BeFalse())
		Expect(h.Delivered).To(Equal(int64(1)))

		eng.Run(5)
		Expect(rtr.credits).To(Equal([]Credit{{VC: 1, Num: 4}}))
	})

	It("should hand deliveries to its consumer", func() {
		build(128)
		got := make([]int, 0)
		h.SetConsumer(func(h *HostAdapter, nicVC int) {
			pkt, _ := h.Recv(nicVC)
			got = append(got, pkt.SrcNum)
		})
		for src := 0; src < 3; src++ {
			ev := eng.NewPacketEvent(src, 1, 4, nil)
			ev.Packet.Link = int(Host)
			h.HandleEvent(Host, ev)
		}
		Expect(got).To(Equal([]int{0, 1, 2}))
		Expect(h.Inbound(0)).To(BeZero())
	})

	It("should halt on credits it never spent", func() {
		build(128)
		Expect(func() { h.HandleEvent(Host, eng.newCreditEvent(0, 1)) }).
			To(PanicWith(BeAssignableToTypeOf(&InvariantViolation{})))
	})

	It("should halt when the router overruns its receive buffer", func() {
		build(128)
		overrun := func() {
			for i := 0; i < 3; i++ {
				ev := eng.NewPacketEvent(0, 1, 2*MaxPacketSize, nil)
				ev.Packet.Link = int(Host)
				h.HandleEvent(Host, ev)
			}
		}
		Expect(overrun).To(PanicWith(MatchError(ContainSubstring("inbound flits exceed"))))
	})

	DescribeTable("halting on a NIC VC out of range",
		func(read func()) {
			build(128)
			Expect(read).To(PanicWith(And(
				BeAssignableToTypeOf(&InvariantViolation{}),
				MatchError(ContainSubstring("NIC virtual channel out of range")))))
		},
		Entry("Recv", func() { h.Recv(NumNicVCs) }),
		Entry("Tokens", func() { h.Tokens(-1) }),
		Entry("Outbound", func() { h.Outbound(NumNicVCs) }),
		Entry("Inbound", func() { h.Inbound(3) }),
	)

	It("should halt on a packet for another node", func() {
		build(128)
		ev := eng.NewPacketEvent(0, 2, 4, nil)
		ev.Packet.Link = int(Host)
		Expect(func() { h.HandleEvent(Host, ev) }).To(PanicWith(BeAssignableToTypeOf(&InvariantViolation{})))
	})
})
