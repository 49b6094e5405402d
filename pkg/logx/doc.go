// Package logx configures puddlebot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON, one entry per line
//   - an optional chat sink forwards warnings to an operator chat, paced
//     by a token bucket so a failing upstream cannot flood the chat
package logx
