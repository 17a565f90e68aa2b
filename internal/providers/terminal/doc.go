// Package terminal hosts interactive shells on pseudo-terminals.
//
// The Manager owns live sessions: it resolves a shell, builds the child
// environment, spawns the shell on a PTY and streams its output on a
// bounded channel. Destroying a session removes it from the registry
// before the whole process tree is killed, so descendants started by the
// shell (dev servers, watchers) do not outlive it.
//
// The Provider exposes the same operations as service tools. Each session
// gets a Stream that drains the output channel into a scrollback buffer
// and fans chunks out to subscribers such as WebSocket clients.
//
// Tools:
//   - terminal.create_session: start a shell on a new PTY
//   - terminal.write: send input (text or base64)
//   - terminal.read: drain buffered output, reports exit once the shell is gone
//   - terminal.resize: change terminal dimensions
//   - terminal.list_sessions, terminal.get_session: inspect sessions
//   - terminal.kill, terminal.kill_all, terminal.kill_under: tree-kill sessions
//   - terminal.run_command: bounded one-shot command in a login shell
//   - terminal.detect_clis: probe installed agent CLIs
//
// Example Usage:
//
//	sess := terminal.create_session(shell: "/bin/zsh", working_dir: "/home/user")
//	terminal.write(session_id: sess.id, input: "ls -la\n")
//	out := terminal.read(session_id: sess.id)
//	terminal.kill(session_id: sess.id)
package terminal
