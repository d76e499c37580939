package emitter

import (
	"math"
	"sort"

	"github.com/cwbudde/qdemitter/internal/archive"
)

// rankingRecord ties an insertion outcome to the solution's batch position.
type rankingRecord struct {
	status archive.AddStatus
	value  float64
	index  int
}

// rankRecords sorts records best first: by status (New, ImproveExisting,
// NotAdded), then by value descending, then by batch index ascending. NaN
// values sort last within their status.
func rankRecords(records []rankingRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.status != b.status {
			return a.status > b.status
		}
		aNaN, bNaN := math.IsNaN(a.value), math.IsNaN(b.value)
		if aNaN != bNaN {
			return bNaN
		}
		if a.value != b.value && !aNaN {
			return a.value > b.value
		}
		return a.index < b.index
	})
}

// countAdded returns how many records entered the archive.
func countAdded(records []rankingRecord) int {
	n := 0
	for _, r := range records {
		if r.status.Added() {
			n++
		}
	}
	return n
}
