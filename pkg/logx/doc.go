// Package logx configures plexpush's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog:
//   - Console output is readable (short timestamp + short caller)
//   - File output is JSON
package logx
