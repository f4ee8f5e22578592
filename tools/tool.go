// Package tools turns tags in a model reply into tool invocations and runs
// them.
//
// Information Hiding:
// - Tag grammar hidden in the parser
// - Each executor hides its side effects (files, processes, HTTP, sub-model calls)
// - Shared flags and the cache cell hide their locking
// - Error handling internalized per executor; callers only see Result
package tools

import (
	"context"
	"errors"
	"fmt"
)

// Kind names a tool.
type Kind string

// Tool kinds.
const (
	KindCache    Kind = "cache"
	KindWrite    Kind = "write"
	KindEdit     Kind = "edit"
	KindRun      Kind = "run"
	KindTest     Kind = "test"
	KindDebugger Kind = "debugger"
	KindSearch   Kind = "search"
	KindFetch    Kind = "fetch"
	KindSummary  Kind = "summary"
)

// Kinds lists every kind in dispatch order. Cache runs first so that content
// cached in the same reply is visible to later tools; summary runs last so it
// sees what fetch just cached.
var Kinds = []Kind{
	KindCache,
	KindWrite,
	KindEdit,
	KindRun,
	KindTest,
	KindDebugger,
	KindSearch,
	KindFetch,
	KindSummary,
}

// ParseKind converts a name into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown tool %q", ErrInvalidArgument, s)
}

// Error classes. Every failed Result wraps exactly one of these.
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrNotFound                = errors.New("not found")
	ErrExecutionFault          = errors.New("execution fault")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrTransportFault          = errors.New("transport fault")
)

// Error is a tool failure. Its message is shown to the user as is; the class
// is only for errors.Is.
type Error struct {
	Class error
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Class, e.Err}
}

// Errorf builds a classified tool error.
func Errorf(class error, format string, args ...any) error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// WriteArgs is the payload of a write invocation.
type WriteArgs struct {
	Filename string
	Code     string
}

// Insertion places Text before line Line (1-based). Line N+1 appends.
type Insertion struct {
	Line int
	Text string
}

// LineRange is an inclusive 1-based range of lines.
type LineRange struct {
	Start int
	End   int
}

// EditArgs is the payload of an edit invocation: every insert and delete the
// reply issued for one file.
type EditArgs struct {
	Filename string
	Inserts  []Insertion
	Deletes  []LineRange
}

// DebugArgs is the payload of a debugger invocation.
type DebugArgs struct {
	// LoadReference copies the reference-file messages into the debug history.
	LoadReference bool
	Description   string
}

// Invocation is one tool call extracted from a reply.
// Payload holds a string for cache, search and fetch, WriteArgs, EditArgs or
// DebugArgs for those kinds, and nil for run, test and summary.
type Invocation struct {
	Kind    Kind
	Payload any
}

// Text returns the payload as a string, or "" when it is not one.
func (inv Invocation) Text() string {
	s, _ := inv.Payload.(string)
	return s
}

// Batch carries facts about the whole reply an invocation came from.
type Batch struct {
	// HasSummary is set when the reply also requested a summary.
	HasSummary bool
}

// Result is the outcome of one invocation.
type Result struct {
	UserMessage   string
	ModelFeedback string
	// Skip asks the loop to run another model turn without user input.
	Skip bool
	Err  error
}

// Success returns true if the invocation succeeded.
func (r Result) Success() bool {
	return r.Err == nil
}

// Executor runs invocations of one kind.
//
// Information Hiding: executors hide their side effects and report every
// failure through Result instead of returning an error.
type Executor interface {
	Kind() Kind
	Execute(ctx context.Context, inv Invocation, batch Batch) Result
}
