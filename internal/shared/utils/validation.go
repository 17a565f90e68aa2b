package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Byte limits on request payloads.
const (
	MaxInputSize   = 64 * 1024 // single terminal write
	MaxCommandSize = 16 * 1024
	MaxQuerySize   = 1024
	MaxPathLength  = 4096
	MaxEnvEntries  = 256
	MaxEnvValue    = 32 * 1024
)

const (
	MaxIDLength       = 128
	MaxCategoryLength = 64
)

var (
	idPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	toolIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	categoryPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	// Parentheses appear in Windows names such as ProgramFiles(x86).
	envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_()]*$`)
)

// field checks an optional or required text value against a rune length
// range and rejects embedded NUL bytes, which no shell or OS API accepts.
type field struct {
	name     string
	min, max int
	pattern  *regexp.Regexp
	charset  string
}

func (f field) check(value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", f.name)
		}
		return nil
	}
	switch n := utf8.RuneCountInString(value); {
	case n < f.min:
		return fmt.Errorf("%s must be at least %d characters", f.name, f.min)
	case n > f.max:
		return fmt.Errorf("%s must not exceed %d characters", f.name, f.max)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s contains invalid characters", f.name)
	}
	if f.pattern != nil && !f.pattern.MatchString(value) {
		return fmt.Errorf("%s may only contain %s", f.name, f.charset)
	}
	return nil
}

// ValidateID checks a session or subscriber id.
func ValidateID(id, fieldName string, required bool) error {
	return field{fieldName, 1, MaxIDLength, idPattern, "letters, digits, hyphens and underscores"}.check(id, required)
}

// ValidateToolID checks a "service.tool" id.
func ValidateToolID(id, fieldName string, required bool) error {
	return field{fieldName, 1, MaxIDLength, toolIDPattern, "letters, digits, dots, hyphens and underscores"}.check(id, required)
}

// ValidateCategory checks a service category filter.
func ValidateCategory(category string, required bool) error {
	return field{"category", 0, MaxCategoryLength, categoryPattern, "lowercase letters, digits and hyphens"}.check(category, required)
}

// ValidatePath checks a working directory or shell path.
func ValidatePath(path, fieldName string, required bool) error {
	return field{name: fieldName, min: 1, max: MaxPathLength}.check(path, required)
}

// ValidateCommand validates a command line
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command is required")
	}
	return field{name: "command", min: 1, max: MaxCommandSize}.check(command, true)
}

// ValidateInput validates raw terminal input. NUL bytes are legal here.
func ValidateInput(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("input is required")
	}
	if len(data) > MaxInputSize {
		return fmt.Errorf("input must not exceed %d bytes", MaxInputSize)
	}
	return nil
}

// ValidateEnv validates environment overrides
func ValidateEnv(env map[string]string) error {
	if len(env) > MaxEnvEntries {
		return fmt.Errorf("too many environment variables (maximum %d)", MaxEnvEntries)
	}

	for key, value := range env {
		if !envKeyPattern.MatchString(key) {
			return fmt.Errorf("invalid environment variable name: %q", key)
		}
		if len(value) > MaxEnvValue {
			return fmt.Errorf("environment variable %s is too large", key)
		}
		if strings.IndexByte(value, 0) >= 0 {
			return fmt.Errorf("environment variable %s contains invalid characters", key)
		}
	}

	return nil
}

// ValidateQuery checks a discovery query.
func ValidateQuery(query string) error {
	if err := (field{name: "query", min: 1, max: MaxQuerySize}).check(query, true); err != nil {
		return err
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query contains only whitespace")
	}
	return nil
}
