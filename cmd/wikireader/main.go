// Command wikireader is the build/serve-style two-subcommand CLI (§10.5):
// "fetch" downloads and verifies a language's multistream dump files from a
// mirror; "serve" opens an index+archive pair and starts the HTTP surface.
// Subcommand shape and log-then-exit style follow main.go's own
// flag.NewFlagSet switch.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wikireader/wikireader/internal/expand"
	"github.com/wikireader/wikireader/internal/fetch"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/logging"
	"github.com/wikireader/wikireader/internal/luabridge"
	"github.com/wikireader/wikireader/internal/render"
	"github.com/wikireader/wikireader/internal/server"
	"github.com/wikireader/wikireader/internal/wiki"
)

// Exit codes per §6/§7: 0 success, 2 bad arguments, 3 index/dump open
// failure (a fatal error at startup).
const (
	exitOK          = 0
	exitBadArgs     = 2
	exitOpenFailure = 3
)

func main() {
	if raw := os.Getenv("WIKIREADER_LOG"); raw != "" {
		level, err := logging.ParseLevel(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitBadArgs)
		}
		logging.SetLevel(level)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'serve' or 'fetch' subcommand")
		os.Exit(exitBadArgs)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "fetch":
		os.Exit(runFetch(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unexpected subcommand %q, expected 'serve' or 'fetch'\n", os.Args[1])
		os.Exit(exitBadArgs)
	}
}

func runServe(args []string) int {
	cmd := flagSetServe()
	if err := cmd.fs.Parse(args); err != nil {
		return exitBadArgs
	}

	nsmap := wiki.DefaultNamespaceMap()
	idx, err := index.Open(*cmd.indexPath, *cmd.dumpPath, index.Options{
		NamespaceMap: nsmap,
		BlockCacheMB: *cmd.blockCacheMB,
	})
	if err != nil {
		logging.Errorf("failed to open index/dump: %v", err)
		return exitOpenFailure
	}
	defer idx.Close()

	expander := expand.New(expand.Options{
		Index:          idx,
		NamespaceMap:   nsmap,
		PageCacheBytes: *cmd.pageCacheMB << 20,
	})
	bridge := luabridge.New(luabridge.Options{
		Index:            idx,
		NamespaceMap:     nsmap,
		Expander:         expander,
		ModuleCacheBytes: *cmd.moduleCacheMB << 20,
	})
	expander.SetInvoker(bridge)

	renderer := render.New(render.Options{
		NamespaceMap: nsmap,
		Exists:       idx.Exists,
	})

	srv := server.New(server.Options{
		Index:    idx,
		Expander: expander,
		Renderer: renderer,
		NSMap:    nsmap,
	})

	if err := srv.ListenAndServe(*cmd.addr); err != nil {
		logging.Errorf("server stopped: %v", err)
		return exitOpenFailure
	}
	return exitOK
}

func runFetch(args []string) int {
	cmd := flagSetFetch()
	if err := cmd.fs.Parse(args); err != nil {
		return exitBadArgs
	}

	res, err := fetch.Run(context.Background(), fetch.Options{
		Dir:      *cmd.dumpsDir,
		Mirror:   *cmd.mirror,
		Language: *cmd.language,
	})
	if err != nil {
		logging.Errorf("fetch failed: %v", err)
		return exitOpenFailure
	}

	logging.Infof("fetched index at %s and archive at %s", res.IndexPath, res.ArchivePath)
	return exitOK
}
