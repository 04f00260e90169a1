package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/peersync/internal/adapter"
	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
)

// PatchOptions holds flags for the patch command.
type PatchOptions struct {
	*RootOptions
	Database       string
	Kind           string
	AllowDowngrade bool
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch <party_id/id> <patch-file>",
		Short: "Merge-patch one stored resource",
		Long: `Apply a merge-patch document to a resource in the database and print the
resulting document.

Protected fields (party_id, id, children, content_hash) are rejected and leave
the resource unchanged. A patch without last_updated is stamped with the
current time; an explicit older timestamp is rejected unless
--allow-downgrade is set.

Example:
  peersync patch --db ./peersync.db P/A patch.json
  echo '{"name":"Depot 1"}' | peersync patch --db ./peersync.db P/A -`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "resource kind (default: first configured kind)")
	cmd.Flags().BoolVar(&opts.AllowDowngrade, "allow-downgrade", false, "accept an explicit last_updated older than the stored one")

	return cmd
}

// patchResult is the JSON output of the patch command.
type patchResult struct {
	Outcome  ItemView `json:"outcome"`
	Document any      `json:"document,omitempty"`
}

func runPatch(opts *PatchOptions, target, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := loadSetup(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	kind, err := s.kind(opts.Kind)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid kind", err)
	}
	dbPath := s.database(opts.Database)
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "no database: set --db or database in the configuration", nil)
	}

	id, err := resource.ParseIdentity(target)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid target", err)
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read patch", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	b, err := openBackend(ctx, s.cfg, s.kinds, dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer b.Close()

	a := adapter.New(adapter.NewStoreSink(b.store), s.opts...)
	ch := adapter.Change{Op: adapter.OpPatch, Kind: kind.Name, Target: id, Object: data, AllowDowngrade: opts.AllowDowngrade}
	batch := adapter.RetryLockTimeouts(ctx, a, []adapter.Change{ch}, s.cfg.RetryPolicy())
	out := batch.Items[0]

	res := patchResult{Outcome: newItemView(out)}
	text := fmt.Sprintf("%s %s %s", out.Kind, out.Op, out.Target)
	if out.Reason != "" {
		text += ": " + out.Reason
	}
	if r, ok := b.store.Get(id); ok {
		doc := r.Document()
		res.Document = canon.ToAny(doc)
		encoded, err := canon.MarshalCanonical(doc)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode document", err)
		}
		text += "\n" + string(encoded)
	}
	if err := formatter.Success(res, text); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if out.Kind.Failed() || out.Kind.Retryable() {
		return NewExitError(ExitFailure, fmt.Sprintf("patch %s: %s", out.Kind, out.Reason))
	}
	return nil
}
