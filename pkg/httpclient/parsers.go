package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// headerScheme names one API's rate-limit response headers. Reset headers
// are tried in order; the first one that parses wins.
type headerScheme struct {
	resetHeaders []string
	parseReset   func(string) (int64, bool)

	requestsRemaining     string
	inputTokensRemaining  string
	outputTokensRemaining string
	tokensRemaining       string
}

func (s headerScheme) parse(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: retryAfterDuration(headers)}

	for _, name := range s.resetHeaders {
		raw := headers.Get(name)
		if raw == "" {
			continue
		}
		if unix, ok := s.parseReset(raw); ok {
			info.ResetTime = unix
			break
		}
	}

	info.RequestsRemaining = intHeader(headers, s.requestsRemaining)
	info.InputTokensRemaining = intHeader(headers, s.inputTokensRemaining)
	info.OutputTokensRemaining = intHeader(headers, s.outputTokensRemaining)
	info.TokensRemaining = intHeader(headers, s.tokensRemaining)
	return info
}

func retryAfterDuration(headers http.Header) time.Duration {
	seconds, err := strconv.Atoi(headers.Get("Retry-After"))
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func intHeader(headers http.Header, name string) int {
	if name == "" {
		return 0
	}
	value, err := strconv.Atoi(headers.Get(name))
	if err != nil {
		return 0
	}
	return value
}

// Anthropic reports resets as RFC3339 timestamps and splits token budgets
// into input and output.
var anthropicHeaders = headerScheme{
	resetHeaders: []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	},
	parseReset: func(raw string) (int64, bool) {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, false
		}
		return at.Unix(), true
	},
	requestsRemaining:     "anthropic-ratelimit-requests-remaining",
	inputTokensRemaining:  "anthropic-ratelimit-input-tokens-remaining",
	outputTokensRemaining: "anthropic-ratelimit-output-tokens-remaining",
}

// OpenAI reports resets as unix timestamps and a single token budget.
var openAIHeaders = headerScheme{
	resetHeaders: []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	},
	parseReset: func(raw string) (int64, bool) {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return unix, true
	},
	requestsRemaining: "x-ratelimit-remaining-requests",
	tokensRemaining:   "x-ratelimit-remaining-tokens",
}

// ParseAnthropicHeaders extracts rate limit info from Anthropic API headers.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	return anthropicHeaders.parse(headers)
}

// ParseOpenAIHeaders extracts rate limit info from OpenAI API headers.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	return openAIHeaders.parse(headers)
}
