package types

// ExecuteRequest represents a service execution request
type ExecuteRequest struct {
	ToolID string                 `json:"tool_id" binding:"required"`
	Params map[string]interface{} `json:"params"`
}

// CreateTerminalRequest is the body of POST /terminals
type CreateTerminalRequest struct {
	Shell      string            `json:"shell"`
	Args       []string          `json:"args"`
	ShellKind  string            `json:"shell_kind"`
	ShellPath  string            `json:"shell_path"`
	ShellArgs  []string          `json:"shell_args"`
	Distro     string            `json:"distro"`
	WorkingDir string            `json:"working_dir"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env"`
}

// InputRequest is the body of POST /terminals/:id/input
type InputRequest struct {
	Data string `json:"data" binding:"required"`
}

// ResizeRequest is the body of POST /terminals/:id/resize
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required,min=1"`
	Rows int `json:"rows" binding:"required,min=1"`
}

// DestroyUnderRequest is the body of POST /terminals/destroy-under
type DestroyUnderRequest struct {
	Dir string `json:"dir" binding:"required"`
}

// RunCommandRequest is the body of POST /commands/run
type RunCommandRequest struct {
	Command       string            `json:"command" binding:"required"`
	TimeoutMS     int               `json:"timeout_ms"`
	KillOnTimeout bool              `json:"kill_on_timeout"`
	WorkingDir    string            `json:"working_dir"`
	Env           map[string]string `json:"env"`
	Shell         string            `json:"shell"`
}

// RunCommandResponse mirrors the run_command tool result
type RunCommandResponse struct {
	OK        bool   `json:"ok"`
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// WSMessage is a JSON control frame on a terminal stream. Terminal output
// itself travels as binary frames.
//
// Server to client: "exit" (Code, Signal), "error" (Message), "pong".
// Client to server: "input" (Data), "resize" (Cols, Rows), "ping".
type WSMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Code    *int   `json:"code,omitempty"`
	Signal  int    `json:"signal,omitempty"`
	Message string `json:"message,omitempty"`
}
