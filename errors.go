package tornet

// errors.go holds the three kinds of failure the router model reports.
// None of them are recoverable: construction returns a ConfigError, while
// InvariantViolation and RoutingError are raised with panic while the
// simulation runs, halting it.

import (
	"fmt"
)

// ConfigError reports a missing or out-of-range construction parameter
type ConfigError struct {
	Router int    // router (or host) id, -1 when the parameter is network-wide
	Param  string // parameter name
	Value  string // offending value, empty when missing
	Reason string
}

func (ce *ConfigError) Error() string {
	if ce.Router < 0 {
		return fmt.Sprintf("config: parameter %s=%q: %s", ce.Param, ce.Value, ce.Reason)
	}
	return fmt.Sprintf("config: router %d parameter %s=%q: %s", ce.Router, ce.Param, ce.Value, ce.Reason)
}

// InvariantViolation identifies the component and the values that broke a
// flow-control or readiness invariant
type InvariantViolation struct {
	Router    int
	Component string // "iLCB", "inQ", "outQ", "oLCB", "credit", "nic", ...
	Link      Direction
	VC        int
	Detail    string
}

func (iv *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant: router %d %s link %s vc %d: %s",
		iv.Router, iv.Component, iv.Link, iv.VC, iv.Detail)
}

// RoutingError is returned by the route function for a destination outside [0, NumNodes)
type RoutingError struct {
	Router   int
	Dest     int
	NumNodes int
}

func (re *RoutingError) Error() string {
	return fmt.Sprintf("routing: router %d has no route to node %d (network has %d nodes)",
		re.Router, re.Dest, re.NumNodes)
}

// violation panics with an InvariantViolation built from its arguments
func violation(router int, component string, link Direction, vc int, format string, args ...any) {
	panic(&InvariantViolation{Router: router, Component: component, Link: link, VC: vc,
		Detail: fmt.Sprintf(format, args...)})
}
