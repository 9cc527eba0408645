package lb

import (
	"net/http"

	"github.com/frectonz/penny/retry"
	"github.com/frectonz/penny/util"
)

type Strategy uint8

const (
	StrategyLeastConn Strategy = iota
	StrategyRandom
	StrategyHash
	StrategyRoundRobin
)

var StrategyEnum = util.NewEnum(map[Strategy]string{
	StrategyLeastConn:  "least",
	StrategyRandom:     "random",
	StrategyHash:       "hash",
	StrategyRoundRobin: "round-robin",
})

func (e Strategy) String() string                        { return StrategyEnum.ToString(e) }
func (e Strategy) MarshalText() (text []byte, err error) { return StrategyEnum.MarshalText(e) }
func (e *Strategy) UnmarshalText(text []byte) error      { return StrategyEnum.UnmarshalText(e, text) }

type StateType uint8

const (
	StateSticky StateType = iota
	StateNone
)

var StateEnum = util.NewEnum(map[StateType]string{
	StateSticky: "sticky",
	StateNone:   "none",
})

func (e StateType) String() string                        { return StateEnum.ToString(e) }
func (e StateType) MarshalText() (text []byte, err error) { return StateEnum.MarshalText(e) }
func (e *StateType) UnmarshalText(text []byte) error      { return StateEnum.UnmarshalText(e, text) }

type ErrorOptions struct {
	Handle http.Handler // The error handler, invoked in place of forwarding the upstream's response.
}

type Options struct {
	Retry    retry.Policy  // The retry policy.
	Strategy Strategy      // The load balancing strategy.
	State    StateType     // The session kind.
	Error4xx *ErrorOptions // The error handler for 4xx responses.
	Error5xx *ErrorOptions // The error handler for 5xx responses.
	Error404 *ErrorOptions // The error handler for 404 responses.
}
