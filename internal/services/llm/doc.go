// Package llm provides an OpenRouter-compatible chat client for the run
// planner.
//
// The client sends system/user prompts with a JSON-only response format
// and returns the raw payload for the caller to decode. Providers return
// the payload in several shapes (message content, streaming delta, legacy
// text) and frequently wrap it in markdown fences; extraction and
// DecodeJSON tolerate all of them.
//
// # Entry Points
//
// NewClient: construct a client from Config.
// Client.CompleteJSON: send system/user prompts, receive the raw JSON payload.
// Client.HealthCheck: verify the API key and model are usable.
// DecodeJSON: decode a payload, stripping fences and surrounding prose.
//
// # Retry Behaviour
//
// Requests retry on HTTP 408/429/5xx, network timeouts, and empty
// completions with exponential backoff (base 1s, max 10s, up to 5
// attempts by default), honoring Retry-After when the server sends one.
// Context cancellation aborts retries immediately.
package llm
