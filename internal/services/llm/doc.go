// Package llm provides a minimal OpenRouter-compatible chat client used by the
// LLM fallback posting extractor.
//
// Client.CompleteJSON sends a system and user prompt in JSON mode and returns
// the raw model content. It performs a single request; callers bound it with a
// context deadline and decide what to do on failure. DecodeJSON tolerates the
// usual formatting quirks of model output (code fences, leading prose).
//
// Errors carry services markers: 401/403 map to ErrConfiguration, 429 and 5xx
// to ErrTransient, and everything else to ErrExternalTool.
package llm
