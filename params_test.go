package tornet

import (
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Params", func() {
	p := Params{"a": "12", "f": "1.5", "b": "true", "bad": "x1", "clock": "500 MHz"}

	It("should read typed values and defaults", func() {
		Expect(p.RequireInt(0, "a")).To(Equal(12))
		Expect(p.Int(0, "missing", 7)).To(Equal(7))
		Expect(p.Float(0, "f", 0)).To(Equal(1.5))
		Expect(p.Bool(0, "b", false)).To(BeTrue())
		Expect(p.String("missing", "dflt")).To(Equal("dflt"))
		Expect(p.Freq(0, "clock", "1GHz")).To(Equal(500e6))
		Expect(p.Freq(0, "other", "1GHz")).To(Equal(1e9))
	})

	It("should report missing and malformed values as ConfigErrors", func() {
		_, err := p.RequireInt(3, "missing")
		Expect(err).To(BeAssignableToTypeOf(&ConfigError{}))
		Expect(err.(*ConfigError).Router).To(Equal(3))

		_, err = p.Int(3, "bad", 0)
		Expect(err).To(MatchError(ContainSubstring("not an integer")))
		_, err = p.Float(3, "bad", 0)
		Expect(err).To(HaveOccurred())
		_, err = p.Bool(3, "bad", false)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("frequencies",
		func(s string, hz float64) {
			Expect(ParseFreq(s)).To(BeNumerically("~", hz, 1e-6))
		},
		Entry("GHz", "1GHz", 1e9),
		Entry("MHz with a space", "500 MHz", 500e6),
		Entry("kHz", "2.5kHz", 2500.0),
		Entry("bare Hz", "100Hz", 100.0),
		Entry("exponent", "2e9Hz", 2e9),
	)

	DescribeTable("bad frequencies",
		func(s string) {
			_, err := ParseFreq(s)
			Expect(err).To(HaveOccurred())
		},
		Entry("no unit", "1G"),
		Entry("zero", "0GHz"),
		Entry("negative", "-1MHz"),
		Entry("garbage", "fastHz"),
	)
})

var _ = Describe("Router configuration", func() {
	base := func() Params {
		return Params{"id": "5", "network.xDimSize": "4", "network.yDimSize": "2", "network.zDimSize": "1"}
	}

	It("should take defaults for every optional parameter", func() {
		cfg, err := ParseRouterCfg(base())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ID).To(Equal(5))
		Expect(cfg.Dims).To(Equal([3]int{4, 2, 1}))
		Expect(cfg.ILCBLat).To(Equal(13))
		Expect(cfg.OLCBLat).To(Equal(7))
		Expect(cfg.RoutingLat).To(Equal(3))
		Expect(cfg.IQLat).To(Equal(2))
		Expect(cfg.InputQSize).To(Equal(128))
		Expect(cfg.OverheadMult).To(Equal(1.0))
		Expect(cfg.VCRemap).To(Equal(DefaultVCRemap))
	})

	It("should read every parameter it is given", func() {
		p := base()
		p["iLCBLat"] = "4"
		p["InputQSize_flits"] = "36"
		p["overheadMult"] = "1.25"
		p["routing.zDateline"] = "0"
		p["routing.xDateline"] = "3"
		p["routing.vcRemap"] = "1, 0, 3, 2"
		p["trace"] = "true"
		cfg, err := ParseRouterCfg(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ILCBLat).To(Equal(4))
		Expect(cfg.InputQSize).To(Equal(36))
		Expect(cfg.OverheadMult).To(Equal(1.25))
		Expect(cfg.Dateline).To(Equal([3]int{3, 0, 0}))
		Expect(cfg.VCRemap).To(Equal([NumVCs]int{1, 0, 3, 2}))
		Expect(cfg.Trace).To(BeTrue())
	})

	DescribeTable("rejected configurations",
		func(param, value, reported string) {
			p := base()
			if value == "" {
				delete(p, param)
			} else {
				p[param] = value
			}
			_, err := ParseRouterCfg(p)
			Expect(err).To(BeAssignableToTypeOf(&ConfigError{}))
			Expect(err.(*ConfigError).Param).To(Equal(reported))
		},
		Entry("missing dimension", "network.yDimSize", "", "network.yDimSize"),
		Entry("missing id", "id", "", "id"),
		Entry("zero dimension", "network.zDimSize", "0", "network.zDimSize"),
		Entry("id outside the network", "id", "8", "id"),
		Entry("dateline outside its ring", "routing.yDateline", "2", "routing.yDateline"),
		Entry("negative latency", "oLCBLat", "-1", "oLCBLat"),
		Entry("queue smaller than a packet", "OutputQSize_flits", "17", "OutputQSize_flits"),
		Entry("host queue smaller than a packet", "Node2RouterQSize_flits", "4", "Node2RouterQSize_flits"),
		Entry("overhead below one", "overheadMult", "0.5", "overheadMult"),
		Entry("remap that is not a permutation", "routing.vcRemap", "0,0,1,2", "routing.vcRemap"),
		Entry("remap of the wrong length", "routing.vcRemap", "1,0", "routing.vcRemap"),
		Entry("malformed trace flag", "trace", "maybe", "trace"),
	)

	It("should refuse a port whose far buffer cannot hold a packet", func() {
		eng := newEngine()
		r, err := CreateRouter(eng, DefaultRouterCfg(0, [3]int{2, 1, 1}), nil)
		Expect(err).NotTo(HaveOccurred())
		lnk, _ := eng.Connect(r, XPos, newFarEnd(eng), XNeg)
		Expect(r.ConnectPort(XPos, lnk, MaxPacketSize-1)).To(BeAssignableToTypeOf(&ConfigError{}))
		Expect(r.ConnectPort(XPos, lnk, MaxPacketSize)).To(Succeed())
		Expect(r.CreditCapacity(XPos)).To(Equal(MaxPacketSize))
	})

	It("should reject a bad clock", func() {
		_, err := CreateEngine(nil, "fast")
		Expect(err).To(BeAssignableToTypeOf(&ConfigError{}))
	})
})

var _ = Describe("Experiment configuration", func() {
	var excfg *ExpCfg

	BeforeEach(func() {
		excfg = torusCfg([3]int{4, 2, 1})
		Expect(excfg.AddParameter("Router", Wildcard(), "iLCBLat", "10")).To(Succeed())
		Expect(excfg.AddParameter("Router", []AttrbStruct{{AttrbName: "id", AttrbValue: "5"}}, "iLCBLat", "30")).To(Succeed())
		Expect(excfg.AddParameter("Router", []AttrbStruct{{AttrbName: "x", AttrbValue: "1"}}, "iLCBLat", "20")).To(Succeed())
		Expect(excfg.AddParameter("Router", Wildcard(), "oLCBLat", "3")).To(Succeed())
	})

	It("should apply the most specific matching parameter", func() {
		p := excfg.ParamsFor("Router", 0, Coord(0, [3]int{4, 2, 1}))
		Expect(p["iLCBLat"]).To(Equal("10"))
		Expect(p["oLCBLat"]).To(Equal("3"))

		p = excfg.ParamsFor("Router", 1, Coord(1, [3]int{4, 2, 1}))
		Expect(p["iLCBLat"]).To(Equal("20"))

		// node 5 is at x=1 as well, and the id wins
		p = excfg.ParamsFor("Router", 5, Coord(5, [3]int{4, 2, 1}))
		Expect(p["iLCBLat"]).To(Equal("30"))

		Expect(excfg.ParamsFor("Host", 0, [3]int{})).To(BeEmpty())
	})

	It("should refuse parameters that do not belong to their object", func() {
		Expect(excfg.AddParameter("Switch", Wildcard(), "iLCBLat", "1")).NotTo(Succeed())
		Expect(excfg.AddParameter("Network", []AttrbStruct{{AttrbName: "id", AttrbValue: "0"}}, "clock", "1GHz")).NotTo(Succeed())
		Expect(excfg.AddParameter("Host", Wildcard(), "iLCBLat", "1")).NotTo(Succeed())

		excfg.Parameters = append(excfg.Parameters, ExpParameter{ParamObj: "Router", Attributes: Wildcard(), Param: "speed"})
		Expect(excfg.Validate()).NotTo(Succeed())
	})

	It("should survive a trip through yaml and json files", func() {
		dir := GinkgoT().TempDir()
		for _, name := range []string{"exp.yaml", "exp.json"} {
			filename := filepath.Join(dir, name)
			Expect(excfg.WriteToFile(filename)).To(Succeed())
			back, err := LoadExpCfg(filename)
			Expect(err).NotTo(HaveOccurred())
			Expect(back).To(Equal(excfg))
		}
		Expect(excfg.WriteToFile(filepath.Join(dir, "exp.txt"))).NotTo(Succeed())
	})

	It("should keep the type of every error it reports", func() {
		Expect(ReportErrs([]error{nil, nil})).To(Succeed())

		ce := &ConfigError{Router: 2, Param: "xPos.credits", Value: "4", Reason: "too small"}
		err := ReportErrs([]error{nil, errors.New("first"), ce})
		Expect(err).To(MatchError(ContainSubstring("first")))
		Expect(err).To(MatchError(ContainSubstring("xPos.credits")))

		var found *ConfigError
		Expect(errors.As(err, &found)).To(BeTrue())
		Expect(found).To(BeIdenticalTo(ce))
	})

	It("should check files before they are used", func() {
		dir := GinkgoT().TempDir()
		Expect(CheckFiles([]string{filepath.Join(dir, "absent.yaml")}, false)).To(Succeed())
		Expect(CheckFiles([]string{filepath.Join(dir, "absent.yaml")}, true)).NotTo(Succeed())
		Expect(CheckFiles([]string{filepath.Join(dir, "nodir", "x.yaml")}, false)).NotTo(Succeed())
		Expect(CheckFiles([]string{""}, true)).To(Succeed())
	})
})
