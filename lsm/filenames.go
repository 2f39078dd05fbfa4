package lsm

import (
	"path/filepath"
	"regexp"
	"strconv"
)

// indexWidth is the zero-padded filename width used for every segment,
// WAL, and compaction manifest name, so directory listings sort the same
// as numeric order.
const indexWidth = 20

func dataPath(dir string, index uint64) string {
	return filepath.Join(dir, padIndex(index)+".data")
}

func indexPath(dir string, index uint64) string {
	return filepath.Join(dir, padIndex(index)+".index")
}

func walPath(dir string, index uint64) string {
	return filepath.Join(dir, padIndex(index)+".memtable")
}

func compactDataPath(dir string, index uint64) string {
	return filepath.Join(dir, padIndex(index)+".compact_data")
}

func compactIndexPath(dir string, index uint64) string {
	return filepath.Join(dir, padIndex(index)+".compact_index")
}

func compactActionPath(dir string, index uint64) string {
	return filepath.Join(dir, padIndex(index)+".compact_action")
}

func padIndex(index uint64) string {
	s := strconv.FormatUint(index, 10)
	if len(s) >= indexWidth {
		return s
	}
	return zeroPad[:indexWidth-len(s)] + s
}

const zeroPad = "00000000000000000000" // indexWidth zeros, sliced as needed

var (
	dataFilePattern    = regexp.MustCompile(`^(\d+)\.data$`)
	walFilePattern     = regexp.MustCompile(`^(\d+)\.memtable$`)
	compactActionRegex = regexp.MustCompile(`^(\d+)\.compact_action$`)
)

// parseIndex extracts the numeric capture group from a regexp match, or
// reports ok=false if name doesn't match pattern at all.
func parseIndex(pattern *regexp.Regexp, name string) (uint64, bool) {
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
