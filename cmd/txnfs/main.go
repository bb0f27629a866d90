// Package main provides the txnfs CLI entry point: repository
// maintenance and forensics commands layered over the internal/fsfs
// engine. There is deliberately no server subcommand here: txnfs has no
// network surface of its own.
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veridianfs/txnfs/internal/fsfs"
	"github.com/veridianfs/txnfs/internal/repcache"
	"github.com/veridianfs/txnfs/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// repCacheDirName is the conventional subdirectory a repository's
// persistent rep-cache lives in, sibling to `revs` and `txns`.
const repCacheDirName = "rep-cache"

func main() {
	rootCmd := &cobra.Command{
		Use:   "txnfs",
		Short: "txnfs - transactional commit engine for a file-backed versioned store",
		Long: `txnfs manages the lifecycle of a transaction and converts a completed
transaction into an immutable, monotonically numbered revision on disk.

This tool operates directly on a repository's on-disk layout; it does not
speak a client/server protocol.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("txnfs v%s (%s)\n", version, commit)
		},
	})

	createRepoCmd := &cobra.Command{
		Use:   "create-repo <path>",
		Short: "Initialize a new repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreateRepo,
	}
	createRepoCmd.Flags().String("config", "", "path to a format YAML file (defaults to the built-in defaults)")
	rootCmd.AddCommand(createRepoCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Walk every committed revision and check its invariants",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	rootCmd.AddCommand(verifyCmd)

	recoverCmd := &cobra.Command{
		Use:   "recover <path>",
		Short: "Find (and optionally remove) orphaned transactions left by a crashed writer",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecover,
	}
	recoverCmd.Flags().Bool("remove", false, "remove orphaned transactions instead of only reporting them")
	rootCmd.AddCommand(recoverCmd)

	dumpRevCmd := &cobra.Command{
		Use:   "dump-rev <path> <rev>",
		Short: "Print the noderev tree and changes block of one revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runDumpRev,
	}
	rootCmd.AddCommand(dumpRevCmd)

	gcCmd := &cobra.Command{
		Use:   "gc <path>",
		Short: "Compact the persistent rep-cache",
		Args:  cobra.ExactArgs(1),
		RunE:  runGC,
	}
	rootCmd.AddCommand(gcCmd)

	beginCmd := &cobra.Command{
		Use:   "begin <path>",
		Short: "Open a transaction rooted at the current head revision",
		Args:  cobra.ExactArgs(1),
		RunE:  runBegin,
	}
	rootCmd.AddCommand(beginCmd)

	commitCmd := &cobra.Command{
		Use:   "commit <path> <txn-id>",
		Short: "Commit an open transaction into the next revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runCommit,
	}
	rootCmd.AddCommand(commitCmd)

	abortCmd := &cobra.Command{
		Use:   "abort <path> <txn-id>",
		Short: "Discard an open transaction",
		Args:  cobra.ExactArgs(2),
		RunE:  runAbort,
	}
	rootCmd.AddCommand(abortCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCreateRepo(cmd *cobra.Command, args []string) error {
	path := args[0]
	configPath, _ := cmd.Flags().GetString("config")

	cfg := config.DefaultRepositoryConfig()
	if configPath != "" {
		loaded, err := config.LoadRepositoryConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("creating repository at %s (format %d, shard size %d)\n", path, cfg.Format, cfg.ShardSize)
	if err := fsfs.CreateRepository(path, cfg.ToFormat()); err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}
	fmt.Println("repository created")
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	paths, err := loadPaths(path)
	if err != nil {
		return err
	}

	head, err := fsfs.ReadCurrentRevision(paths)
	if err != nil {
		return fmt.Errorf("reading head revision: %w", err)
	}
	fmt.Printf("verifying revisions 0..%d\n", head)

	if err := fsfs.VerifyRepository(paths); err != nil {
		if kind, ok := fsfs.KindOf(err); ok && kind == fsfs.KindCorrupt {
			fmt.Fprintf(os.Stderr, "CORRUPT: %v\n", err)
			os.Exit(1)
		}
		return err
	}
	fmt.Println("OK")
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
	path := args[0]
	remove, _ := cmd.Flags().GetBool("remove")

	paths, err := loadPaths(path)
	if err != nil {
		return err
	}

	sweep := fsfs.NewRecoverySweep(paths, fsfs.NewRegistry())
	orphans, err := sweep.Run(remove)
	if err != nil {
		return fmt.Errorf("running recovery sweep: %w", err)
	}

	if len(orphans) == 0 {
		fmt.Println("no orphaned transactions found")
		return nil
	}
	verb := "found"
	if remove {
		verb = "removed"
	}
	fmt.Printf("%s %d orphaned transaction(s):\n", verb, len(orphans))
	for _, txnID := range orphans {
		fmt.Printf("  %s\n", txnID)
	}
	return nil
}

func runDumpRev(cmd *cobra.Command, args []string) error {
	path := args[0]
	rev, err := parseRevArg(args[1])
	if err != nil {
		return err
	}

	paths, err := loadPaths(path)
	if err != nil {
		return err
	}

	trailer, err := fsfs.ReadRevisionTrailer(paths, rev)
	if err != nil {
		return fmt.Errorf("reading revision trailer: %w", err)
	}

	reader := fsfs.NewRepContentReader(paths)
	root, err := reader.ReadNoderev(fsfs.NewImmutableID("0", "0", rev, trailer.RootOffset))
	if err != nil {
		return fmt.Errorf("reading root noderev: %w", err)
	}

	fmt.Printf("revision %d (root offset %d, changes offset %d)\n", rev, trailer.RootOffset, trailer.ChangedPathOffset)
	fmt.Println()
	fmt.Println("tree:")
	if err := dumpNodeTree(reader, "/", root, 1); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("changes:")
	data, err := os.ReadFile(paths.RevFile(rev))
	if err != nil {
		return fmt.Errorf("reading revision file: %w", err)
	}
	trailerLine := fmt.Sprintf("%d %d\n", trailer.RootOffset, trailer.ChangedPathOffset)
	changesBlock := data[trailer.ChangedPathOffset : len(data)-len(trailerLine)]
	records, err := fsfs.ReadChangeRecords(bytes.NewReader(changesBlock))
	if err != nil {
		return fmt.Errorf("reading changes block: %w", err)
	}
	for _, rec := range records {
		fmt.Printf("  %s %s (text-mod=%v prop-mod=%v)\n", rec.Kind, rec.Path, rec.TextMod, rec.PropMod)
	}
	return nil
}

func dumpNodeTree(reader *fsfs.RepContentReader, path string, n *fsfs.Noderev, depth int) error {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Printf("%s%s (%s) id=%s\n", indent, path, n.Kind, n.ID)

	if n.Kind != fsfs.KindDir || n.DataRep == nil {
		return nil
	}
	data, err := reader.ExpandRep(n.DataRep)
	if err != nil {
		return fmt.Errorf("expanding directory content at %s: %w", path, err)
	}
	entries, err := fsfs.DeserializeDirListing(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reading directory listing at %s: %w", path, err)
	}
	for _, e := range entries {
		child, err := reader.ReadNoderev(e.ID)
		if err != nil {
			return fmt.Errorf("reading noderev for %s: %w", e.Name, err)
		}
		if err := dumpNodeTree(reader, path+e.Name+"/", child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func runGC(cmd *cobra.Command, args []string) error {
	path := args[0]
	cacheDir := path + string(os.PathSeparator) + repCacheDirName

	store, err := repcache.Open(cacheDir)
	if err != nil {
		return fmt.Errorf("opening rep-cache: %w", err)
	}
	defer store.Close()

	fmt.Println("compacting rep-cache...")
	if err := store.RunValueLogGC(0.5); err != nil {
		return fmt.Errorf("compacting rep-cache: %w", err)
	}
	fmt.Println("rep-cache compaction complete")
	return nil
}

func loadPaths(repoPath string) (fsfs.Paths, error) {
	cfg, err := config.LoadRepositoryConfig(repoPath + string(os.PathSeparator) + "format")
	if err != nil {
		return fsfs.Paths{}, fmt.Errorf("reading repository format: %w", err)
	}
	return fsfs.NewPaths(repoPath, cfg.ShardSize), nil
}

// loadRepository opens a Repository handle against an existing on-disk
// repository, wiring its persistent rep-cache tier. The returned closer
// must be called (ideally via defer) to release the rep-cache and the
// repository's noderev decode cache.
func loadRepository(repoPath string) (*fsfs.Repository, func(), error) {
	cfg, err := config.LoadRepositoryConfig(repoPath + string(os.PathSeparator) + "format")
	if err != nil {
		return nil, nil, fmt.Errorf("reading repository format: %w", err)
	}

	cacheDir := repoPath + string(os.PathSeparator) + repCacheDirName
	store, err := repcache.Open(cacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening rep-cache: %w", err)
	}

	repo, err := fsfs.Open(repoPath, fsfs.Options{Format: cfg.ToFormat(), Cache: store})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("opening repository: %w", err)
	}

	closer := func() {
		repo.Close()
		store.Close()
	}
	return repo, closer, nil
}

func runBegin(cmd *cobra.Command, args []string) error {
	repo, closer, err := loadRepository(args[0])
	if err != nil {
		return err
	}
	defer closer()

	txnID, err := repo.BeginTxn()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	fmt.Println(txnID)
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	repo, closer, err := loadRepository(args[0])
	if err != nil {
		return err
	}
	defer closer()

	rev, err := repo.CommitTxn(args[1])
	if err != nil {
		if kind, ok := fsfs.KindOf(err); ok && kind == fsfs.KindTxnOutOfDate {
			fmt.Fprintf(os.Stderr, "OUT OF DATE: %v\n", err)
			os.Exit(1)
		}
		return fmt.Errorf("committing transaction %s: %w", args[1], err)
	}
	fmt.Printf("committed revision %d\n", rev)
	return nil
}

func runAbort(cmd *cobra.Command, args []string) error {
	repo, closer, err := loadRepository(args[0])
	if err != nil {
		return err
	}
	defer closer()

	if err := repo.AbortTxn(args[1]); err != nil {
		return fmt.Errorf("aborting transaction %s: %w", args[1], err)
	}
	fmt.Printf("aborted transaction %s\n", args[1])
	return nil
}

func parseRevArg(s string) (int64, error) {
	var rev int64
	if _, err := fmt.Sscanf(s, "%d", &rev); err != nil {
		return 0, fmt.Errorf("invalid revision %q: %w", s, err)
	}
	return rev, nil
}
