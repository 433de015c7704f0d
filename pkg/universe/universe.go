// Package universe describes the SensCritique content categories ("universes")
// and how each one names the people behind a product.
package universe

import (
	"fmt"
	"sort"
)

// Role is the raw GraphQL field that carries a product's creators.
type Role string

const (
	RoleNone       Role = ""
	RoleDirectors  Role = "directors"
	RoleAuthors    Role = "authors"
	RoleDevelopers Role = "developers"
	RoleCreators   Role = "creators"
	RolePencillers Role = "pencillers"
	RoleArtists    Role = "artists"
)

// Known universe ids.
const (
	Films  = 1
	Books  = 2
	Games  = 3
	Series = 4
	Comics = 5
	Albums = 6
	Tracks = 7
)

// Universe is one content category.
type Universe struct {
	ID    int
	Label string

	// CreatorRoles lists the raw fields to read creators from, first non-empty wins.
	CreatorRoles []Role

	// CreatorHeader is the CSV column title for the creators field.
	CreatorHeader string
}

// CreatorRole returns the primary creator role, or RoleNone.
func (u Universe) CreatorRole() Role {
	if len(u.CreatorRoles) == 0 {
		return RoleNone
	}
	return u.CreatorRoles[0]
}

// Known reports whether the universe comes from the dispatch table.
func (u Universe) Known() bool {
	_, ok := table[u.ID]
	return ok
}

var table = map[int]Universe{
	Films:  {ID: Films, Label: "Films", CreatorRoles: []Role{RoleDirectors}, CreatorHeader: "Directors"},
	Books:  {ID: Books, Label: "Livres", CreatorRoles: []Role{RoleAuthors}, CreatorHeader: "Authors"},
	Games:  {ID: Games, Label: "Jeux vidéo", CreatorRoles: []Role{RoleDevelopers}, CreatorHeader: "Developers"},
	Series: {ID: Series, Label: "Séries", CreatorRoles: []Role{RoleCreators}, CreatorHeader: "Creators"},
	Comics: {ID: Comics, Label: "BD", CreatorRoles: []Role{RoleAuthors, RolePencillers}, CreatorHeader: "Authors"},
	Albums: {ID: Albums, Label: "Albums", CreatorRoles: []Role{RoleArtists}, CreatorHeader: "Artists"},
	Tracks: {ID: Tracks, Label: "Morceaux", CreatorRoles: []Role{RoleArtists}, CreatorHeader: "Artists"},
}

// Lookup returns the universe for id. Unknown ids get a generic label and no
// creator role, so their creators field is always empty.
func Lookup(id int) Universe {
	if u, ok := table[id]; ok {
		return u
	}
	return Universe{
		ID:            id,
		Label:         fmt.Sprintf("Univers %d", id),
		CreatorHeader: "Creators",
	}
}

// All returns the known universes ordered by id.
func All() []Universe {
	out := make([]Universe, 0, len(table))
	for _, u := range table {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
