// Package engines contains the speech backend adapters.
// Currently supports a local Piper renderer (builtin), an OpenAI-compatible
// speech API (external) and placeholders for backends not wired yet.
// Each adapter implements the Adapter interface from the parent package.
package engines
