package message

import (
	"fmt"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// fallbackTemplates are the static per-persona bodies used when the remote
// generation service cannot be reached. Each takes the station name. These
// are already localized; they must never be empty.
var fallbackTemplates = map[alert.Persona]string{
	alert.PersonaPlain:    "Approaching %s. Time to get ready.",
	alert.PersonaHealing:  "We're almost at %s. Take a breath and gather your things.",
	alert.PersonaStrict:   "%s is next. Get up now — no dozing past your stop.",
	alert.PersonaCheerful: "Heads up! %s is coming right up. Let's go!",
}

// Fallback returns the static template for a persona with the station name
// substituted. Unknown personas use the plain template, so the result is
// always non-empty.
func Fallback(stationName string, persona alert.Persona) string {
	tmpl, ok := fallbackTemplates[persona]
	if !ok {
		tmpl = fallbackTemplates[alert.PersonaPlain]
	}
	return fmt.Sprintf(tmpl, stationName)
}
