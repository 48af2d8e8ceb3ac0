// Package translate renders technical errors as French one-liners for
// the WhatsApp and Telegram surfaces.
package translate

import (
	"fmt"
	"strings"
)

const fallbackLimit = 70

// Error turns a technical error message into a user-facing French
// explanation. Matching is keyword based, most specific first.
func Error(msg string) string {
	lower := strings.ToLower(msg)

	const wrapper = "unexpected error:"
	if strings.HasPrefix(lower, wrapper) {
		return Error(strings.TrimSpace(msg[len(wrapper):]))
	}

	switch {
	case strings.Contains(lower, "follow-up success message not found"):
		return "Le message de confirmation du site n'est pas apparu à temps. Le site était peut-être trop lent ou une erreur inattendue s'est produite."
	case strings.Contains(lower, "timeout clicking follow order button"):
		return "Je n'ai pas réussi à cliquer sur le bouton pour copier l'ordre car le site était trop lent à charger."
	case strings.Contains(lower, "permanent error"):
		if strings.Contains(lower, "incorrect credentials") {
			return "Les identifiants de connexion pour ce compte sont incorrects. Le compte est ignoré."
		}
		return "Une erreur permanente est survenue (ex: compte bloqué ou problème de validation de session). Ce compte sera ignoré jusqu'à correction."
	case strings.Contains(lower, "duplicate"):
		return "L'ordre a déjà été copié sur ce compte précédemment."
	case strings.Contains(lower, "exist"):
		return "L'ordre a déjà été copié sur ce compte précédemment."
	case strings.Contains(lower, "not logged in"):
		return "La session a expiré ou la connexion a échoué. Je n'ai pas pu accéder à la page de trading."
	case strings.Contains(lower, "timeout"):
		return "L'opération a expiré car le site a mis trop de temps à répondre."
	}

	short := msg
	if len(short) > fallbackLimit {
		short = short[:fallbackLimit]
	}
	return fmt.Sprintf("Une erreur technique non répertoriée est survenue. Contactez le support avec cette information : %q...", short)
}
