package ai

import (
	"time"

	"github.com/poiesic/ragcore/core"
)

// Result is the outcome of one embedding call. It is a closed set: Success,
// RateLimited or Failure.
type Result interface {
	isResult()
}

// Success carries one vector per input, in input order.
type Success struct {
	Vectors [][]float32
}

// RateLimited means the provider asked the caller to back off. RetryAfter is
// zero when the provider gave no hint.
type RateLimited struct {
	RetryAfter time.Duration
	Message    string
}

// Failure is any other classified error.
type Failure struct {
	Kind    core.Kind
	Message string
}

func (Success) isResult()     {}
func (RateLimited) isResult() {}
func (Failure) isResult()     {}

// Err converts a non-success result to a classified error. It returns nil
// for Success.
func Err(r Result) error {
	switch v := r.(type) {
	case Success:
		return nil
	case RateLimited:
		return core.NewError(core.KindRateLimit, v.Message, nil)
	case Failure:
		return core.NewError(v.Kind, v.Message, nil)
	default:
		return core.Errorf(core.KindUnknown, "unexpected embedding result %T", r)
	}
}

// Classify maps an error to a Result. Already-classified errors keep their
// kind; rate-limit errors become RateLimited.
func Classify(err error) Result {
	kind := core.KindOf(err)
	if kind == core.KindRateLimit {
		return RateLimited{Message: err.Error()}
	}
	if kind == core.KindUnknown {
		kind = core.KindConnection
	}
	return Failure{Kind: kind, Message: err.Error()}
}
