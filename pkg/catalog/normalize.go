package catalog

import (
	"strings"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/universe"
)

// dateDoneLayouts are tried in order when parsing otherUserInfos.dateDone.
var dateDoneLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// normalizeProduct turns a raw record into an Item. It reports false when the
// record has no universe or no usable title; such records are dropped.
func normalizeProduct(raw rawProduct, baseURL string) (Item, bool) {
	if raw.Universe == nil {
		return Item{}, false
	}

	title := ""
	if raw.Title != nil {
		title = *raw.Title
	}
	var original *string
	if raw.OriginalTitle != nil && *raw.OriginalTitle != "" {
		original = raw.OriginalTitle
	}
	if original == nil && title == "" {
		return Item{}, false
	}

	it := Item{
		ID:                raw.ID,
		CategoryID:        *raw.Universe,
		Title:             title,
		OriginalTitle:     original,
		DateRelease:       raw.DateRelease,
		YearOfProduction:  raw.YearOfProduction,
		FrenchReleaseDate: raw.FrenchReleaseDate,
		PosterURL:         raw.Medias.Picture,
		Creators:          extractCreators(raw, universe.Lookup(*raw.Universe)),
	}
	if raw.URL != "" {
		it.DetailURL = strings.TrimRight(baseURL, "/") + raw.URL
	}

	if info := raw.OtherUserInfos; info != nil {
		it.Viewer = ViewerState{
			Rating:       info.Rating,
			WatchedAt:    parseDateDone(info.DateDone),
			IsCompleted:  info.IsDone,
			IsWishlisted: info.IsWished,
		}
	}

	return it, true
}

// extractCreators reads the role fields the universe declares, first non-empty wins.
func extractCreators(raw rawProduct, u universe.Universe) []Creator {
	for _, role := range u.CreatorRoles {
		people := peopleFor(raw, role)
		if len(people) == 0 {
			continue
		}
		out := make([]Creator, 0, len(people))
		for _, p := range people {
			if p.Name == "" {
				continue
			}
			out = append(out, Creator{Role: role, Name: p.Name})
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func peopleFor(raw rawProduct, role universe.Role) []rawPerson {
	switch role {
	case universe.RoleDirectors:
		return raw.Directors
	case universe.RoleAuthors:
		return raw.Authors
	case universe.RoleDevelopers:
		return raw.Developers
	case universe.RoleCreators:
		return raw.Creators
	case universe.RolePencillers:
		return raw.Pencillers
	case universe.RoleArtists:
		return raw.Artists
	default:
		return nil
	}
}

// parseDateDone returns nil for missing or unparseable values.
func parseDateDone(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range dateDoneLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
