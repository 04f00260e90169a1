package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/result"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Every item succeeded, was filtered, or is still retryable
	ExitFailure      = 1 // At least one item failed, or a hash did not verify
	ExitCommandError = 2 // Bad input, configuration or database
)

// Error codes reported in JSON error responses.
const (
	ErrCodeGeneric  = "E001" // Generic/unknown error
	ErrCodeInput    = "E002" // Input file missing or malformed
	ErrCodeConfig   = "E003" // Configuration invalid
	ErrCodeStore    = "E004" // Database open/load failed
	ErrCodeNotFound = "E005" // Resource not found
	ErrCodeRemote   = "E006" // Remote endpoint invalid
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. Text mode prints text instead when it is non-empty.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == "" {
		text = fmt.Sprint(data)
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes the error and returns the ExitError to hand back to cobra.
func (f *OutputFormatter) Fail(exit int, code, message string, err error) error {
	var details any
	if err != nil {
		details = err.Error()
	}
	_ = f.Error(code, message, details)
	return WrapExitError(exit, message, err)
}

// VerboseLog writes a diagnostic line when verbose mode is enabled.
// When format is JSON it goes to ErrWriter to keep stdout parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// ItemView is the rendered form of one push outcome. Elapsed time is left
// out so output is reproducible.
type ItemView struct {
	Op       string   `json:"op"`
	Target   string   `json:"target,omitempty"`
	Outcome  string   `json:"outcome"`
	Code     string   `json:"code,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// BatchView is the rendered form of a batch.
type BatchView struct {
	Status    string     `json:"status"`
	Items     []ItemView `json:"items"`
	Warnings  []string   `json:"warnings,omitempty"`
	Succeeded int        `json:"succeeded"`
	Filtered  int        `json:"filtered"`
	Failed    int        `json:"failed"`
	Retryable int        `json:"retryable"`
}

func newItemView(o result.Outcome) ItemView {
	return ItemView{
		Op:       o.Op,
		Target:   o.Target,
		Outcome:  string(o.Kind),
		Code:     string(errs.CodeOf(o.Err)),
		Reason:   o.Reason,
		Warnings: o.Warnings,
	}
}

func newBatchView(b result.Batch) BatchView {
	v := BatchView{
		Status:    string(b.Status),
		Items:     make([]ItemView, len(b.Items)),
		Warnings:  b.Warnings,
		Succeeded: len(b.Succeeded),
		Filtered:  len(b.Filtered),
		Failed:    len(b.Failed),
		Retryable: len(b.Retryable),
	}
	for i, o := range b.Items {
		v.Items[i] = newItemView(o)
	}
	return v
}

// Batch writes a batch result: one line per item, then a summary.
func (f *OutputFormatter) Batch(b result.Batch) error {
	v := newBatchView(b)
	if f.Format == "json" {
		return f.Success(v, "")
	}

	for _, item := range v.Items {
		line := item.Outcome + " " + item.Op
		if item.Target != "" {
			line += " " + item.Target
		}
		if item.Reason != "" {
			line += ": " + item.Reason
		}
		fmt.Fprintln(f.Writer, line)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(f.Writer, "warning: %s\n", w)
	}
	_, err := fmt.Fprintf(f.Writer, "status=%s succeeded=%d filtered=%d failed=%d retryable=%d\n",
		v.Status, v.Succeeded, v.Filtered, v.Failed, v.Retryable)
	return err
}
