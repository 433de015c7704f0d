// Package export turns a loaded collection into Letterboxd-compatible CSV
// export jobs: one diary and one wishlist job per universe.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/universe"
)

// ErrNoDataToExport is returned instead of producing a header-only file.
var ErrNoDataToExport = errors.New("no data to export")

// Kind selects which items of a category a job exports.
type Kind int

const (
	// Diary exports completed items with rating and watched date.
	Diary Kind = iota
	// Wishlist exports wished items.
	Wishlist
)

// Kinds lists the job kinds in export order.
var Kinds = []Kind{Diary, Wishlist}

func (k Kind) String() string {
	switch k {
	case Diary:
		return "diary"
	case Wishlist:
		return "wishlist"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "diary" or "wishlist".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "diary":
		return Diary, nil
	case "wishlist":
		return Wishlist, nil
	default:
		return 0, fmt.Errorf("unknown export kind %q", s)
	}
}

// suffix is the filename word for the kind.
func (k Kind) suffix() string {
	if k == Wishlist {
		return "watchlist"
	}
	return "vus"
}

// Matches reports whether item belongs in a job of this kind.
func (k Kind) Matches(item catalog.Item) bool {
	switch k {
	case Diary:
		return item.Viewer.IsCompleted
	case Wishlist:
		return item.Viewer.IsWishlisted
	default:
		return false
	}
}

// Header returns the column titles for a job of this kind in category u.
func (k Kind) Header(u universe.Universe) []string {
	if k == Wishlist {
		return []string{"Title", "Year", u.CreatorHeader}
	}
	return []string{"Title", "Year", u.CreatorHeader, "Rating10", "WatchedDate"}
}

// Job is one CSV file to produce. Rows[0] is the header.
type Job struct {
	Category universe.Universe
	Kind     Kind
	Filename string
	Rows     [][]string
}

// ItemCount returns the number of data rows.
func (j Job) ItemCount() int {
	if len(j.Rows) == 0 {
		return 0
	}
	return len(j.Rows) - 1
}

// WriteCSV encodes the job's rows to w.
func (j Job) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(j.Rows); err != nil {
		return fmt.Errorf("write %s: %w", j.Filename, err)
	}
	return nil
}
