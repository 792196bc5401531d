package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/vcslog/internal/buildinfo"
	"github.com/thiagokokada/vcslog/internal/config"
	"github.com/thiagokokada/vcslog/internal/data"
	"github.com/thiagokokada/vcslog/internal/git"
	gitbackend "github.com/thiagokokada/vcslog/internal/git/backend"
	"github.com/thiagokokada/vcslog/internal/graph"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
	"github.com/thiagokokada/vcslog/internal/watch"
)

type options struct {
	backend    string
	branches   string
	users      string
	paths      string
	hashes     string
	text       string
	matchCase  bool
	since      string
	until      string
	sort       string
	limit      int
	rows       int
	firstBlock int
	contains   string
	full       bool
	index      bool
	watch      bool
	verbose    bool
	noCache    bool
}

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg := config.DefaultConfig()

	var opts options
	fs := flag.NewFlagSet("vcslog", flag.ContinueOnError)
	fs.StringVar(&opts.backend, "backend", string(git.BackendNative), "repository backend: native or cli")
	fs.StringVar(&opts.branches, "branch", "", "comma-separated branch names or glob patterns")
	fs.StringVar(&opts.users, "user", "", "comma-separated author names or emails (\"me\" for the configured user)")
	fs.StringVar(&opts.paths, "path", "", "comma-separated paths the commits must touch")
	fs.StringVar(&opts.hashes, "hash", "", "comma-separated commit hashes or prefixes")
	fs.StringVar(&opts.text, "text", "", "text the commit message must contain")
	fs.BoolVar(&opts.matchCase, "match-case", false, "match -text case-sensitively")
	fs.StringVar(&opts.since, "since", "", "only commits after this date (YYYY-MM-DD)")
	fs.StringVar(&opts.until, "until", "", "only commits before this date (YYYY-MM-DD)")
	fs.StringVar(&opts.sort, "sort", graph.SortLinear.String(), "row order: linear or date")
	fs.IntVar(&opts.limit, "limit", cfg.FilterCommitsLimit, "matches requested from detail filters (0 for all)")
	fs.IntVar(&opts.rows, "n", 50, "number of rows to print (0 for all)")
	fs.IntVar(&opts.firstBlock, "first-block", cfg.FirstBlock, "commits read per root before the full log")
	fs.StringVar(&opts.contains, "contains", "", "print the branches containing this commit")
	fs.BoolVar(&opts.full, "full", false, "wait for the full log before printing")
	fs.BoolVar(&opts.index, "index", false, "index full commit details so detail filters are answered locally (implies -full)")
	fs.BoolVar(&opts.watch, "watch", false, "keep running and refresh when repositories change")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable verbose logging")
	fs.BoolVar(&opts.noCache, "nocache", false, "keep commit identities in memory only")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		printVersion(stdout, opts.backend)
		return nil
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	filters, err := buildFilters(opts)
	if err != nil {
		return err
	}
	if opts.firstBlock <= 0 {
		return fmt.Errorf("invalid -first-block %d", opts.firstBlock)
	}
	cfg.FirstBlock = opts.firstBlock

	roots := fs.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}
	providers := make([]vcs.LogProvider, 0, len(roots))
	for _, root := range roots {
		p, err := git.Open(ctx, root, git.BackendKind(opts.backend))
		if err != nil {
			return fmt.Errorf("open %s: %w", root, err)
		}
		providers = append(providers, p)
	}

	store := openStore(cfg, opts.noCache)
	logData := data.New(cfg, store, providers...)
	defer func() {
		if err := logData.Close(); err != nil {
			slog.Error("close", slog.Any("error", err))
		}
	}()

	if err := logData.Initialize(ctx); err != nil {
		return err
	}
	if opts.full || opts.index {
		if err := waitFull(ctx, logData); err != nil {
			return err
		}
	}
	if opts.index {
		for _, root := range logData.Roots() {
			if err := logData.IndexRoot(ctx, root); err != nil {
				return fmt.Errorf("index %s: %w", root, err)
			}
		}
	}

	sort := graph.SortTypeFromString(opts.sort)
	stage := data.FirstStage(opts.limit)
	if opts.watch {
		return watchLog(ctx, cfg, logData, sort, filters, stage, opts, stdout)
	}

	visible, err := logData.BuildVisiblePack(ctx, logData.DataPack(), sort, filters, stage)
	if err != nil {
		return err
	}
	if err := printLog(ctx, stdout, logData, visible, opts.rows); err != nil {
		return err
	}
	if opts.contains != "" {
		return printContaining(ctx, stdout, logData, opts.contains)
	}
	return nil
}

func printVersion(w io.Writer, backend string) {
	fmt.Fprintln(w, buildinfo.Read())
	if git.BackendKind(backend) != git.BackendCLI {
		return
	}
	out, err := gitbackend.GitVersion()
	if err != nil {
		fmt.Fprintf(w, "git: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s (minimum %s)\n", out, gitbackend.MinGitVersion())
}

// openStore opens the persistent identity store, falling back to memory when the cache
// directory cannot be used.
func openStore(cfg *config.Config, memoryOnly bool) storage.Store {
	if memoryOnly || cfg.DataDir == "" {
		return storage.NewMemory()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Warn("identity cache unavailable, using memory", slog.Any("error", err))
		return storage.NewMemory()
	}
	return storage.Open(osfs.New(cfg.DataDir), filepath.Base(cfg.StorePath()), func(err error) {
		slog.Warn("identity cache unreadable, using memory", slog.Any("error", err))
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func buildFilters(opts options) (vcs.FilterCollection, error) {
	var f vcs.FilterCollection
	if names := splitList(opts.branches); len(names) > 0 {
		f.Branch = &vcs.BranchFilter{Names: names}
	}
	if users := splitList(opts.users); len(users) > 0 {
		f.User = &vcs.UserFilter{Users: users}
	}
	if paths := splitList(opts.paths); len(paths) > 0 {
		f.Structure = &vcs.StructureFilter{Paths: paths}
	}
	if hashes := splitList(opts.hashes); len(hashes) > 0 {
		f.Hash = &vcs.HashFilter{Hashes: hashes}
	}
	if opts.text != "" {
		f.Text = &vcs.TextFilter{Text: opts.text, MatchCase: opts.matchCase}
	}
	if opts.since != "" || opts.until != "" {
		var date vcs.DateFilter
		var err error
		if opts.since != "" {
			if date.After, err = time.Parse(time.DateOnly, opts.since); err != nil {
				return f, fmt.Errorf("invalid -since: %w", err)
			}
		}
		if opts.until != "" {
			if date.Before, err = time.Parse(time.DateOnly, opts.until); err != nil {
				return f, fmt.Errorf("invalid -until: %w", err)
			}
			date.Before = date.Before.Add(24*time.Hour - time.Second)
		}
		f.Date = &date
	}
	switch opts.sort {
	case graph.SortLinear.String(), graph.SortDate.String():
	default:
		return f, fmt.Errorf("invalid -sort %q", opts.sort)
	}
	return f, nil
}

func waitFull(ctx context.Context, d *data.LogData) error {
	full := make(chan struct{})
	var closed bool
	sub := d.Subscribe(func(pack *data.DataPack) {
		// Runs on the publication loop, one call at a time.
		if pack.IsFull() && !closed {
			closed = true
			close(full)
		}
	})
	defer d.Unsubscribe(sub)
	select {
	case <-full:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printLog(ctx context.Context, w io.Writer, d *data.LogData, visible *data.VisiblePack, rows int) error {
	g := visible.Graph()
	n := g.Len()
	if rows > 0 && rows < n {
		n = rows
	}
	indices := make([]int, n)
	for row := range n {
		indices[row] = g.CommitAt(row)
	}
	details, err := d.ShortDetails().CommitDataSync(ctx, indices)
	if err != nil {
		return err
	}
	refsModel := visible.DataPack().Refs()
	multiRoot := len(d.Roots()) > 1

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, detail := range details {
		var labels []string
		for _, ref := range refsModel.RefsToCommit(d.Store().CommitIndex(detail.ID)) {
			if ref.Type == vcs.RefTypeTag {
				labels = append(labels, "tag: "+ref.Name)
			} else {
				labels = append(labels, ref.Name)
			}
		}
		subject := detail.Subject
		if len(labels) > 0 {
			subject = "(" + strings.Join(labels, ", ") + ") " + subject
		}
		hash := detail.ID.Hash.String()[:10]
		if multiRoot {
			hash = filepath.Base(detail.ID.Root) + ":" + hash
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			hash,
			time.Unix(detail.Timestamp, 0).Format(time.DateOnly),
			detail.Author.Name,
			subject,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if visible.CanRequestMore() {
		fmt.Fprintln(w, "... more matches available, raise -limit")
	}
	return nil
}

func printContaining(ctx context.Context, w io.Writer, d *data.LogData, prefix string) error {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	roots := d.Roots()
	id, ok := d.Store().FindCommitID(func(id vcs.CommitID) bool {
		return slices.Contains(roots, id.Root) && strings.HasPrefix(id.Hash.String(), prefix)
	})
	if !ok {
		if !plumbing.IsHash(prefix) {
			return fmt.Errorf("unknown commit %q", prefix)
		}
		// Full hashes outside the loaded log are answered by the first root.
		id = vcs.CommitID{Hash: plumbing.NewHash(prefix), Root: roots[0]}
	}
	branches, err := d.ContainingBranchesSynchronously(ctx, id.Root, id.Hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s is contained in: %s\n", id.Hash.String()[:10], strings.Join(branches, ", "))
	return nil
}

func watchLog(ctx context.Context, cfg *config.Config, d *data.LogData, sort graph.SortType, filters vcs.FilterCollection, stage data.CommitCountStage, opts options, w io.Writer) error {
	watcher, err := watch.New(d.Roots(), cfg.AutoRefreshDelay, d.RefreshSoftly)
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("watcher close", slog.Any("error", err))
		}
	}()

	// Soft refreshes cannot reload a root whose saved log lost its anchor; do it here.
	reload := d.ReloadPending()
	defer d.Unsubscribe(reload)

	refresher := data.NewVisiblePackRefresher(d, sort, filters, stage)
	defer refresher.Close()

	updates := make(chan *data.VisiblePack, 1)
	refresher.OnVisiblePackChanged(func(v *data.VisiblePack) {
		select {
		case <-updates:
		default:
		}
		updates <- v
	})

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case v := <-updates:
			fmt.Fprintf(w, "--- %s: %d commits\n", time.Now().Format(time.TimeOnly), v.Graph().Len())
			if err := printLog(ctx, w, d, v, opts.rows); err != nil {
				slog.Error("print log", slog.Any("error", err))
			}
		}
	}
}
