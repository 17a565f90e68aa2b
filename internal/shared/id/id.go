// Package id provides centralized ID generation for the terminal backend.
//
// IDs are prefixed ULIDs drawn from a monotonic entropy source, so IDs
// produced by one generator are strictly increasing even within the same
// millisecond and are never reused for the lifetime of the process.
//
// Prefixes:
//   - pty_*: interactive pseudo-terminal sessions
//   - run_*: one-shot command executions
//   - sub_*: output stream subscribers
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// TerminalID identifies an interactive terminal session
type TerminalID string

// RunID identifies a single bounded command execution
type RunID string

// SubscriberID identifies an output stream subscriber
type SubscriberID string

const (
	TerminalPrefix   = "pty"
	RunPrefix        = "run"
	SubscriberPrefix = "sub"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates monotonic ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // ulid.MonotonicEntropy is not safe for concurrent use
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic ordering
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy wraps the given entropy source in a monotonic reader.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate creates a new ULID greater than every ULID previously returned
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewTerminalID generates a new terminal session ID
func (g *Generator) NewTerminalID() TerminalID {
	return TerminalID(g.GenerateWithPrefix(TerminalPrefix))
}

// NewRunID generates a new command execution ID
func (g *Generator) NewRunID() RunID {
	return RunID(g.GenerateWithPrefix(RunPrefix))
}

// NewSubscriberID generates a new subscriber ID
func (g *Generator) NewSubscriberID() SubscriberID {
	return SubscriberID(g.GenerateWithPrefix(SubscriberPrefix))
}

// ============================================================================
// Package-level helpers
// ============================================================================

// NewTerminalID generates a terminal session ID from the default generator
func NewTerminalID() TerminalID {
	return Default().NewTerminalID()
}

// NewRunID generates a run ID from the default generator
func NewRunID() RunID {
	return Default().NewRunID()
}

// NewSubscriberID generates a subscriber ID from the default generator
func NewSubscriberID() SubscriberID {
	return Default().NewSubscriberID()
}

func (id TerminalID) String() string   { return string(id) }
func (id RunID) String() string        { return string(id) }
func (id SubscriberID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsValidPrefixed checks a "prefix_ulid" string against the expected prefix
func IsValidPrefixed(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	return ok && IsValid(rest)
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID or a prefixed ULID
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
