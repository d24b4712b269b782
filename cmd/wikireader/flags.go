package main

import (
	"flag"

	"github.com/pbnjay/memory"
)

// defaultCacheMB sizes a cache flag's default as a fraction of total system
// memory, falling back to floorMB when the amount can't be detected (e.g.
// inside some containers) or comes back as zero.
func defaultCacheMB(fraction float64, floorMB int) int {
	total := memory.TotalMemory()
	if total == 0 {
		return floorMB
	}
	mb := int(float64(total) / (1 << 20) * fraction)
	if mb < floorMB {
		return floorMB
	}
	return mb
}

// serveFlags holds the parsed --serve flag set (§10.5): index/dump paths,
// listen address, and the three cache sizes the server wires into
// internal/index, internal/expand and internal/luabridge.
type serveFlags struct {
	fs            *flag.FlagSet
	indexPath     *string
	dumpPath      *string
	addr          *string
	blockCacheMB  *int
	pageCacheMB   *int
	moduleCacheMB *int
}

func flagSetServe() serveFlags {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	return serveFlags{
		fs:            fs,
		indexPath:     fs.String("index", "index.txt", "path to the multistream index file"),
		dumpPath:      fs.String("dump", "database.xml.bz2", "path to the multistream archive"),
		addr:          fs.String("addr", "localhost:3000", "address to listen on"),
		blockCacheMB:  fs.Int("block-cache-mb", defaultCacheMB(0.10, 256), "decompressed bz2 block cache size in megabytes"),
		pageCacheMB:   fs.Int("page-cache-mb", defaultCacheMB(0.025, 64), "parsed page cache size in megabytes"),
		moduleCacheMB: fs.Int("module-cache-mb", defaultCacheMB(0.0125, 32), "compiled Lua module cache size in megabytes"),
	}
}

// fetchFlags holds the parsed --fetch flag set: destination directory,
// mirror base URL, and the wiki language to download.
type fetchFlags struct {
	fs       *flag.FlagSet
	dumpsDir *string
	mirror   *string
	language *string
}

func flagSetFetch() fetchFlags {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	return fetchFlags{
		fs:       fs,
		dumpsDir: fs.String("dumps", "dumps", "directory to download the index and archive into"),
		mirror:   fs.String("mirror", "https://dumps.wikimedia.org", "Wikimedia dump mirror base URL"),
		language: fs.String("language", "en", "wiki language code, e.g. en for enwiki"),
	}
}
