// Command grpctestify runs .gctf declarative gRPC test files against a
// live server, using reflection to resolve each file's ENDPOINT and the
// dynamic dispatcher to make the call. A thin, flag-based CLI adapter over
// internal/runner — the core lives in internal/, not here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grpctestify/grpctestify/internal/runner"
	"github.com/grpctestify/grpctestify/internal/telemetry"
)

var (
	exit = os.Exit

	address     = flag.String("address", "", "Default target host:port for files with no ADDRESS section. Falls back to GRPCTESTIFY_ADDRESS.")
	timeout     = flag.Duration("timeout", 30*time.Second, "Per-file deadline.")
	retries     = flag.Int("retries", 0, "Number of times to retry a group's call after a transport-layer failure.")
	retryDelay  = flag.Duration("retry-delay", time.Second, "Base delay between retries (linear backoff).")
	compression = flag.String("compression", "", "Compression algorithm to request (e.g. gzip). Falls back to GRPCTESTIFY_COMPRESSION.")
	dryRun      = flag.Bool("dry-run", false, "Lower each file's workflow and print its summary without opening a channel.")
	verbose     = flag.Bool("v", false, "Enable verbose output.")
)

func main() {
	flag.CommandLine.Usage = usage
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fail(nil, "No .gctf files or directories specified.")
	}

	files, err := collectFiles(paths)
	if err != nil {
		fail(err, "Failed to resolve input paths")
	}
	if len(files) == 0 {
		fail(nil, "No .gctf files found in the given paths.")
	}

	opts := runner.DefaultOptions()
	opts.Timeout = *timeout
	opts.Retries = *retries
	opts.RetryDelay = *retryDelay
	opts.DryRun = *dryRun
	if *address != "" {
		opts.DefaultAddress = *address
	}
	if *compression != "" {
		opts.Compression = *compression
	}

	r := runner.New(opts)
	logger := telemetry.NewColorLogger(os.Stdout, *verbose)

	var results []*runner.Result
	for _, f := range files {
		res := r.RunFile(context.Background(), f)
		logger.Result(res)
		results = append(results, res)
	}
	telemetry.Summary(os.Stdout, results)

	for _, res := range results {
		if res.Status == runner.StatusFail {
			exit(1)
			return
		}
	}
}

// collectFiles expands each input path into a list of .gctf files, in
// argument order: a file is used as-is, a directory is walked recursively
// in lexical order. The combined list is not sorted.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() && strings.HasSuffix(path, ".gctf") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func fail(err error, msg string, args ...any) {
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	grpctestify [flags] <file-or-dir> [<file-or-dir>...]

Runs every .gctf file found at the given paths (directories are walked
recursively) against the gRPC server named in each file's ADDRESS
section, or -address / GRPCTESTIFY_ADDRESS if the file has none.

Flags:
`)
	flag.PrintDefaults()
}
