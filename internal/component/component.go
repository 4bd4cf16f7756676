// Package component implements the per-service component registry and
// inter-component method table (spec §4.F).
package component

import (
	"github.com/webitel/corehub/internal/variant"
)

// Component is the lifecycle every registered component implements. Order
// of OnInit/OnStart follows registration order; OnStop runs in reverse
// (spec §4.G's service state machine).
type Component interface {
	Name() string
	OnInit() error
	OnStart() error
	OnUpdate(dtMs int64)
	OnStop() error
	OnDestroy()
}

// MethodProvider is implemented by components that expose callable methods
// to CallMethod. Components with no callable surface simply don't
// implement it.
type MethodProvider interface {
	Methods() *MethodTable
}

// Invocable is one component method: a self-describing dynamic argument in,
// a dynamic result and status out (spec §4.F).
type Invocable func(arg variant.Variant) (result variant.Variant, status int32, err error)
