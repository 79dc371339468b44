package openai

import (
	"context"
	"errors"
	"net"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// classify maps a langchaingo error onto the tagged embedding results.
func classify(err error) ai.Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.Failure{Kind: core.KindTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return ai.Failure{Kind: core.KindTimeout, Message: err.Error()}
	}

	mapped := openai.MapError(err)
	switch {
	case llms.IsRateLimitError(mapped):
		return ai.RateLimited{Message: err.Error()}
	case llms.IsAuthenticationError(mapped):
		return ai.Failure{Kind: core.KindAuthentication, Message: err.Error()}
	case llms.IsQuotaExceededError(mapped):
		return ai.Failure{Kind: core.KindConfiguration, Message: err.Error()}
	case llms.IsInvalidRequestError(mapped), llms.IsTokenLimitError(mapped):
		return ai.Failure{Kind: core.KindValidation, Message: err.Error()}
	case llms.IsTimeoutError(mapped):
		return ai.Failure{Kind: core.KindTimeout, Message: err.Error()}
	case llms.IsProviderUnavailableError(mapped):
		return ai.Failure{Kind: core.KindConnection, Message: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ai.Failure{Kind: core.KindTimeout, Message: err.Error()}
	}
	return ai.Failure{Kind: core.KindConnection, Message: err.Error()}
}

// classifyError is classify for callers that want an error value.
func classifyError(err error) error {
	return ai.Err(classify(err))
}
