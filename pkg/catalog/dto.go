package catalog

import "encoding/json"

// graphqlRequest is the POST body sent for every page.
type graphqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   *responseData  `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type responseData struct {
	// User stays a raw message so that an explicit null can be told apart
	// from a missing field.
	User json.RawMessage `json:"user"`
}

type rawUser struct {
	Medias struct {
		Avatar string `json:"avatar"`
	} `json:"medias"`
	Collection *rawCollection `json:"collection"`
}

type rawCollection struct {
	Total    int          `json:"total"`
	Products []rawProduct `json:"products"`
}

type rawPerson struct {
	Name string `json:"name"`
}

type rawProduct struct {
	ID                int64   `json:"id"`
	Universe          *int    `json:"universe"`
	Title             *string `json:"title"`
	OriginalTitle     *string `json:"originalTitle"`
	DateRelease       *string `json:"dateRelease"`
	YearOfProduction  *int    `json:"yearOfProduction"`
	FrenchReleaseDate *string `json:"frenchReleaseDate"`
	URL               string  `json:"url"`
	Medias            struct {
		Picture string `json:"picture"`
	} `json:"medias"`

	Directors  []rawPerson `json:"directors"`
	Authors    []rawPerson `json:"authors"`
	Developers []rawPerson `json:"developers"`
	Creators   []rawPerson `json:"creators"`
	Pencillers []rawPerson `json:"pencillers"`
	Artists    []rawPerson `json:"artists"`

	OtherUserInfos *rawUserInfos `json:"otherUserInfos"`
}

type rawUserInfos struct {
	Rating   *float64 `json:"rating"`
	DateDone *string  `json:"dateDone"`
	IsDone   bool     `json:"isDone"`
	IsWished bool     `json:"isWished"`
}
