package catalog

import (
	"strconv"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/universe"
)

// Creator is one person credited on a product, tagged with the raw role it was read from.
type Creator struct {
	Role universe.Role
	Name string
}

// ViewerState is what the profile owner did with a product.
type ViewerState struct {
	// Rating is the 1-10 score, nil when unrated.
	Rating *float64

	// WatchedAt is the "done" timestamp as received (UTC), nil when unknown.
	WatchedAt *time.Time

	IsCompleted  bool
	IsWishlisted bool
}

// Item is one product of a user's collection, normalized from a raw record.
// Items are never mutated after normalization.
type Item struct {
	ID         int64
	CategoryID int

	Title         string
	OriginalTitle *string

	DateRelease       *string
	YearOfProduction  *int
	FrenchReleaseDate *string

	Creators []Creator

	PosterURL string
	DetailURL string

	Viewer ViewerState
}

// DisplayTitle resolves originalTitle, then title.
func (it Item) DisplayTitle() string {
	if it.OriginalTitle != nil && *it.OriginalTitle != "" {
		return *it.OriginalTitle
	}
	return it.Title
}

// ReleaseYear resolves dateRelease, then yearOfProduction, then frenchReleaseDate.
// It returns "" when none is usable.
func (it Item) ReleaseYear() string {
	if it.DateRelease != nil && len(*it.DateRelease) >= 4 {
		return (*it.DateRelease)[:4]
	}
	if it.YearOfProduction != nil {
		return strconv.Itoa(*it.YearOfProduction)
	}
	if it.FrenchReleaseDate != nil && len(*it.FrenchReleaseDate) >= 4 {
		return (*it.FrenchReleaseDate)[:4]
	}
	return ""
}

// PrimaryCreator returns the first credited name, or "".
func (it Item) PrimaryCreator() string {
	if len(it.Creators) == 0 {
		return ""
	}
	return it.Creators[0].Name
}

// Universe returns the item's category descriptor.
func (it Item) Universe() universe.Universe {
	return universe.Lookup(it.CategoryID)
}
