package index

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/wikireader/wikireader/internal/wiki"
)

// maxIndexLineSize bounds a single index.txt line. Titles are capped at 255
// bytes by MediaWiki itself; this leaves generous room for the offset and
// page id columns.
const maxIndexLineSize = 8192

// rawRecord is one "offset:page_id:title" line, still carrying its line
// number so results can be reassembled in file order after parallel
// normalization.
type rawRecord struct {
	line int
	text string
}

// parsedRecord is a rawRecord after colon-splitting and title normalization.
// err is set (and entry left zero) when the line was malformed; the caller
// skips such lines with a warning, per the index's error taxonomy
// (IndexMalformed).
type parsedRecord struct {
	line  int
	entry Entry
	err   error
}

// parseIndexFile streams r line by line (a single sequential pass over the
// bytes, as the data model requires) and fans the CPU-bound parts — colon
// splitting, integer parsing, and C3 title normalization — out across a
// worker pool, reassembling results in line order. Line-oriented fan-out
// fits here since index.txt is one record per line and a line can't safely
// be split mid-record the way an overlapping byte-chunk window could.
func parseIndexFile(r io.Reader, nsmap *wiki.NamespaceMap, onEntry func(Entry), onWarning func(line int, err error)) error {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	lines := make(chan rawRecord, workers*4)
	results := make(chan parsedRecord, workers*4)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for rec := range lines {
				entry, err := parseIndexLine(rec.text, nsmap)
				results <- parsedRecord{line: rec.line, entry: entry, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scanErrCh := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, maxIndexLineSize), maxIndexLineSize)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			lines <- rawRecord{line: lineNum, text: scanner.Text()}
		}
		scanErrCh <- scanner.Err()
	}()

	// Reorder results by line number before delivering to onEntry: the
	// reader issues lines in order but workers may finish out of order.
	pending := make(map[int]parsedRecord)
	next := 1
	for res := range results {
		pending[res.line] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if r.err != nil {
				onWarning(r.line, r.err)
				continue
			}
			onEntry(r.entry)
		}
	}

	if err := <-scanErrCh; err != nil {
		return fmt.Errorf("index: scanning failed: %w", err)
	}
	return nil
}

// parseIndexLine parses one "byte_offset:page_id:title" line. The title may
// itself contain colons, so only the first two colons are split on.
func parseIndexLine(line string, nsmap *wiki.NamespaceMap) (Entry, error) {
	first := strings.IndexByte(line, ':')
	if first < 0 {
		return Entry{}, fmt.Errorf("%w: missing first colon", ErrIndexMalformed)
	}
	rest := line[first+1:]
	second := strings.IndexByte(rest, ':')
	if second < 0 {
		return Entry{}, fmt.Errorf("%w: missing second colon", ErrIndexMalformed)
	}

	offsetStr := line[:first]
	pageIDStr := rest[:second]
	titleStr := rest[second+1:]

	offset, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad offset %q: %v", ErrIndexMalformed, offsetStr, err)
	}
	pageID, err := strconv.ParseInt(pageIDStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad page id %q: %v", ErrIndexMalformed, pageIDStr, err)
	}
	if titleStr == "" {
		return Entry{}, fmt.Errorf("%w: empty title", ErrIndexMalformed)
	}

	title := wiki.Normalize(titleStr, nsmap)
	return Entry{Offset: offset, PageID: pageID, Title: title}, nil
}
