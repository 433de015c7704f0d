package fetchloop

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
)

// Messages are the user-facing notices shown for session outcomes.
type Messages struct {
	InvalidUsername    string   `json:"invalidUsername"`
	ProfileUnavailable string   `json:"profileUnavailable"`
	LoadFailed         string   `json:"loadFailed"`
	PageLoaded         string   `json:"pageLoaded"`
	Loading            []string `json:"loading"`
}

// DefaultMessages returns the French messages of the web application.
func DefaultMessages() Messages {
	return Messages{
		InvalidUsername:    "Merci de renseigner un nom d'utilisateur.",
		ProfileUnavailable: "Nous n'avons pas pû récupérer ton profil. Est-il bien défini en public ?",
		LoadFailed:         "Erreur lors du chargement des données. Vérifiez les logs pour plus de détails.",
		PageLoaded:         "Les éléments de la page %d de votre collection ont été chargés ✨",
		Loading: []string{
			"⚙️ Ça mouline, ça mouline...",
			"🤖 Atta, je travaille...",
			"😌 Va boire un café mon coco...",
			"👇 Tire sur mon doigt en attendant...",
			"🐢 Laisse-moi 2 petites secondes...",
		},
	}
}

// For returns the notice for a session error, or "" when nothing should be shown.
func (m Messages) For(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrSuperseded):
		return ""
	case errors.Is(err, catalog.ErrInvalidUsername):
		return m.InvalidUsername
	case errors.Is(err, catalog.ErrProfileUnavailable):
		return m.ProfileUnavailable
	}

	var ce *catalog.Error
	if errors.As(err, &ce) && ce.Kind == catalog.KindRemoteRejected && ce.Message != "" {
		if ce.Code != "" {
			return fmt.Sprintf("%s (%s: %s)", m.LoadFailed, ce.Code, ce.Message)
		}
		return fmt.Sprintf("%s (%s)", m.LoadFailed, ce.Message)
	}
	return m.LoadFailed
}

// Page returns the notice shown after page n was merged.
func (m Messages) Page(n int) string {
	return fmt.Sprintf(m.PageLoaded, n)
}

// LoadingAt cycles through the loading messages.
func (m Messages) LoadingAt(i int) string {
	if len(m.Loading) == 0 {
		return ""
	}
	if i < 0 {
		i = -i
	}
	return m.Loading[i%len(m.Loading)]
}

// UserMessage returns the default notice for err.
func UserMessage(err error) string {
	return DefaultMessages().For(err)
}
