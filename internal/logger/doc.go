// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// The orchestrator, the registration guard and the authority adapters all take
// a context and log through it, so every message carries the component name
// and, where relevant, the timer id.
package logger
