package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/store/sqlite"
	"github.com/roach88/peersync/internal/version"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	History  bool
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [party_id/id]",
		Short: "Show stored resources",
		Long: `Without arguments, list every stored resource with its content hash.
With a target, print its canonical document, or its revision log with
--history.

Example:
  peersync show --db ./peersync.db
  peersync show --db ./peersync.db P/A
  peersync show --db ./peersync.db --history P/A`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runShow(opts, target, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "print the revision log of the target")

	return cmd
}

// summary is one line of the resource listing.
type summary struct {
	Target      string `json:"target"`
	Kind        string `json:"kind"`
	ContentHash string `json:"content_hash"`
	LastUpdated string `json:"last_updated"`
}

// revisionView is the output form of sqlite.Revision.
type revisionView struct {
	Seq         int64  `json:"seq"`
	Op          string `json:"op"`
	ContentHash string `json:"content_hash,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

func runShow(opts *ShowOptions, target string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := loadSetup(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	dbPath := s.database(opts.Database)
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "no database: set --db or database in the configuration", nil)
	}
	if opts.History && target == "" {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "--history requires a target", nil)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	b, err := openBackend(ctx, s.cfg, s.kinds, dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer b.Close()

	if target == "" {
		return showList(formatter, b.store.List())
	}

	id, err := resource.ParseIdentity(target)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid target", err)
	}

	if opts.History {
		revs, err := b.db.History(ctx, id)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read history", err)
		}
		if len(revs) == 0 {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no revisions for %s", id), nil)
		}
		return showHistory(formatter, revs)
	}

	r, ok := b.store.Get(id)
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("resource %s not found", id), nil)
	}
	doc := r.Document()
	encoded, err := canon.MarshalCanonical(doc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode document", err)
	}
	return formatter.Success(canon.ToAny(doc), string(encoded))
}

func showList(f *OutputFormatter, resources []resource.Resource) error {
	rows := make([]summary, len(resources))
	lines := make([]string, len(resources))
	for i, r := range resources {
		rows[i] = summary{
			Target:      r.Identity.String(),
			Kind:        r.Kind.Name,
			ContentHash: r.ContentHash,
			LastUpdated: version.Format(r.LastUpdated),
		}
		lines[i] = fmt.Sprintf("%s %s %s %s", rows[i].Target, rows[i].Kind, rows[i].ContentHash, rows[i].LastUpdated)
	}
	if len(lines) == 0 {
		return f.Success(rows, "no resources")
	}
	return f.Success(rows, strings.Join(lines, "\n"))
}

func showHistory(f *OutputFormatter, revs []sqlite.Revision) error {
	rows := make([]revisionView, len(revs))
	lines := make([]string, len(revs))
	for i, rev := range revs {
		rows[i] = revisionView{Seq: rev.Seq, Op: rev.Op, ContentHash: rev.ContentHash, LastUpdated: rev.LastUpdated}
		line := fmt.Sprintf("%d %s", rev.Seq, rev.Op)
		if rev.ContentHash != "" {
			line += " " + rev.ContentHash
		}
		if rev.LastUpdated != "" {
			line += " " + rev.LastUpdated
		}
		lines[i] = line
	}
	return f.Success(rows, strings.Join(lines, "\n"))
}
