package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	Kind   string
	Verify bool
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash <document-file>",
		Short: "Compute the content hash of a resource document",
		Long: `Compute the content hash of a resource document as the store would seal it.

A content_hash carried by the document is ignored for hashing. With --verify
it is compared against the computed hash and a mismatch exits with status 1.

Example:
  peersync hash facility.json
  peersync hash --kind charger --verify charger.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "resource kind (default: first configured kind)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "compare against the document's content_hash")

	return cmd
}

// hashResult is the JSON output of the hash command.
type hashResult struct {
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	ContentHash string `json:"content_hash"`
	Verified    *bool  `json:"verified,omitempty"`
}

func runHash(opts *HashOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := loadSetup(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	kind, err := s.kind(opts.Kind)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid kind", err)
	}

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read document", err)
	}
	obj, err := canon.ParseObject(data)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid document", err)
	}
	r, err := resource.FromObject(kind, obj)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid resource", err)
	}

	res := hashResult{Kind: kind.Name, Target: r.Identity.String(), ContentHash: r.ContentHash}
	text := r.ContentHash
	if !opts.Verify {
		return formatter.Success(res, text)
	}

	claimed, _ := obj.GetString(resource.KeyContentHash)
	ok := claimed == r.ContentHash
	res.Verified = &ok
	if ok {
		text = "ok " + text
	} else {
		text = fmt.Sprintf("mismatch %s (document claims %q)", r.ContentHash, claimed)
	}
	if err := formatter.Success(res, text); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if !ok {
		return NewExitError(ExitFailure, "content hash mismatch")
	}
	return nil
}
