package dissect

import (
	"fmt"
)

// Lowering selects how block-scoped declarations are turned into context-visible ones
type Lowering string

const (
	// LoweringLexical rewrites const/let keyword tokens in the source, skipping
	// string, template, regular expression and comment literals
	LoweringLexical Lowering = "lexical"
	// LoweringTextual replaces every "const " and "let " in the rewritten text,
	// including occurrences inside literals
	LoweringTextual Lowering = "textual"
)

// ParseLowering validates a lowering mode name
func ParseLowering(s string) (Lowering, error) {
	switch Lowering(s) {
	case LoweringLexical, LoweringTextual:
		return Lowering(s), nil
	default:
		return "", fmt.Errorf("invalid lowering mode: %s, must be 'lexical' or 'textual'", s)
	}
}

// Options is the engine configuration
type Options struct {
	// ReplaceConstWithVar lowers block-scoped declarations so they become visible through get/set
	ReplaceConstWithVar bool
	// ClearCache evicts a dissected module from the loader cache right after it loads
	ClearCache bool
	// Lowering is the lowering strategy used when ReplaceConstWithVar is set
	Lowering Lowering
}

// DefaultOptions returns the configuration an engine starts with
func DefaultOptions() Options {
	return Options{
		ReplaceConstWithVar: false,
		ClearCache:          false,
		Lowering:            LoweringLexical,
	}
}

// Option changes one configuration key, leaving the others as they are
type Option func(*Options)

// WithReplaceConstWithVar sets ReplaceConstWithVar
func WithReplaceConstWithVar(enabled bool) Option {
	return func(o *Options) {
		o.ReplaceConstWithVar = enabled
	}
}

// WithClearCache sets ClearCache
func WithClearCache(enabled bool) Option {
	return func(o *Options) {
		o.ClearCache = enabled
	}
}

// WithLowering sets the lowering strategy
func WithLowering(mode Lowering) Option {
	return func(o *Options) {
		o.Lowering = mode
	}
}
