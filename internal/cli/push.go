package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/peersync/internal/adapter"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/result"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	Database string
	Remote   string
	NoRetry  bool
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <changes-file>",
		Short: "Push a batch of changes",
		Long: `Push a JSON array of changes to the local store or to a remote peer.

Each change is an object with "op" (publish, patch, set_child, remove_child),
an optional "kind", a "target" ("party_id/id", derived from the document for
publish), "uid" for remove_child and the "object" to apply.

Every item is reported; a failing item never stops the others. Items that
timed out waiting for their resource lock are retried with backoff unless
--no-retry is set. Use "-" to read changes from stdin.

Example:
  peersync push changes.json
  peersync push --db ./peersync.db changes.json
  peersync push --remote https://peer.example.com/sync changes.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database, else in-memory)")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "deliver to this peer endpoint instead of the local store")
	cmd.Flags().BoolVar(&opts.NoRetry, "no-retry", false, "report lock timeouts without retrying")
	cmd.MarkFlagsMutuallyExclusive("db", "remote")

	return cmd
}

func runPush(opts *PushOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := loadSetup(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read changes", err)
	}
	changes, err := parseChanges(data)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid changes file", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var sink adapter.Sink
	client, err := s.remoteClient(opts.Remote)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRemote, "invalid remote endpoint", err)
	}
	if client != nil {
		formatter.VerboseLog("Delivering %d change(s) to %s", len(changes), client.Endpoint())
		sink = adapter.NewRemoteSink(client)
	} else {
		b, err := openBackend(ctx, s.cfg, s.kinds, s.database(opts.Database))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
		}
		defer b.Close()
		formatter.VerboseLog("Applying %d change(s) to %d stored resource(s)", len(changes), b.store.Len())
		sink = adapter.NewStoreSink(b.store)
	}

	a := adapter.New(sink, s.opts...)
	var batch result.Batch
	if opts.NoRetry {
		batch = a.PushAll(ctx, changes)
	} else {
		batch = adapter.RetryLockTimeouts(ctx, a, changes, s.cfg.RetryPolicy())
	}

	if err := formatter.Batch(batch); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if batch.HasFailures() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d change(s) failed", len(batch.Failed), len(batch.Items)))
	}
	return nil
}

// changeRecord is the file form of an adapter.Change.
type changeRecord struct {
	Op             string          `json:"op"`
	Kind           string          `json:"kind,omitempty"`
	Target         string          `json:"target,omitempty"`
	UID            string          `json:"uid,omitempty"`
	Object         json.RawMessage `json:"object,omitempty"`
	AllowDowngrade bool            `json:"allow_downgrade,omitempty"`
}

// parseChanges decodes a JSON array of change records. Objects stay raw so the
// codec sees them with key order and integer precision intact.
func parseChanges(data []byte) ([]adapter.Change, error) {
	var records []changeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}

	changes := make([]adapter.Change, len(records))
	for i, rec := range records {
		op, err := adapter.ParseOp(rec.Op)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		ch := adapter.Change{Op: op, Kind: rec.Kind, UID: rec.UID, AllowDowngrade: rec.AllowDowngrade}
		if rec.Target != "" {
			if ch.Target, err = resource.ParseIdentity(rec.Target); err != nil {
				return nil, fmt.Errorf("change %d: %w", i, err)
			}
		}
		if len(rec.Object) > 0 {
			ch.Object = rec.Object
		}
		changes[i] = ch
	}
	return changes, nil
}
