// Package types provides shared data structures for the terminal backend.
//
// Service Types:
//   - Service, Tool, Parameter: service provider definitions
//   - Context: caller identity for a tool invocation
//   - Result: standard tool result
//
// Request Types:
//   - ExecuteRequest: service tool execution
//   - CreateTerminalRequest, InputRequest, ResizeRequest, DestroyUnderRequest
//   - RunCommandRequest, RunCommandResponse
//   - WSMessage: terminal stream frames
package types
