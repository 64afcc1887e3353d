// Package predicate compiles message filter expressions such as
//
//	role == "tool" && content contains "error"
//	"fact" in tags || pinned
//
// into memory predicates.
package predicate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/user/recall/internal/memory"
)

// Env is the set of variables an expression sees for one message.
type Env struct {
	ID         string         `expr:"id"`
	Role       string         `expr:"role"`
	Content    string         `expr:"content"`
	Name       string         `expr:"name"`
	ToolCallID string         `expr:"tool_call_id"`
	Pinned     bool           `expr:"pinned"`
	Tags       []string       `expr:"tags"`
	Tools      []string       `expr:"tools"`
	Metadata   map[string]any `expr:"metadata"`
	CreatedAt  time.Time      `expr:"created_at"`
	Age        time.Duration  `expr:"age"`
}

// EnvFor builds the environment for msg.
func EnvFor(msg memory.Message) Env {
	meta := msg.Metadata()
	if meta == nil {
		meta = map[string]any{}
	}
	tags := msg.Tags()
	if tags == nil {
		tags = []string{}
	}
	return Env{
		ID:         msg.ID(),
		Role:       string(msg.Role()),
		Content:    msg.Text(),
		Name:       msg.Name(),
		ToolCallID: msg.ToolCallID(),
		Pinned:     msg.IsPinned(),
		Tags:       tags,
		Tools:      msg.ToolNames(),
		Metadata:   meta,
		CreatedAt:  msg.CreatedAt(),
		Age:        time.Since(msg.CreatedAt()),
	}
}

// Expr is a compiled boolean expression over messages.
type Expr struct {
	Source  string
	program *vm.Program
}

// Compile type-checks source against Env and requires a boolean result.
func Compile(source string) (*Expr, error) {
	if source == "" {
		return nil, errors.New("empty expression")
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &Expr{Source: source, program: program}, nil
}

// Match evaluates the expression for msg.
func (e *Expr) Match(msg memory.Message) (bool, error) {
	out, err := expr.Run(e.program, EnvFor(msg))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.Source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", e.Source, out)
	}
	return b, nil
}

// Predicate adapts the expression to memory.Predicate. Messages the
// expression fails on do not match.
func (e *Expr) Predicate() memory.Predicate {
	return func(msg memory.Message) bool {
		ok, err := e.Match(msg)
		if err != nil {
			slog.Debug("predicate failed", "message_id", msg.ID(), "error", err)
			return false
		}
		return ok
	}
}

// Parse compiles source straight into a memory.Predicate.
func Parse(source string) (memory.Predicate, error) {
	e, err := Compile(source)
	if err != nil {
		return nil, err
	}
	return e.Predicate(), nil
}
