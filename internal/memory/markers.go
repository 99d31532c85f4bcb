package memory

import (
	"regexp"
	"strings"

	"github.com/starkbot/starkbot/pkg/models"
)

// markerKinds maps each bracket marker name to the Memory kind it
// produces, in the precedence order quoted by §4.1 step 6.
var markerKinds = map[string]models.MemoryKind{
	"REMEMBER_IMPORTANT": models.KindRememberImportant,
	"DAILY_LOG":          models.KindDailyLog,
	"PREFERENCE":         models.KindPreference,
	"FACT":               models.KindFact,
	"TASK":               models.KindTask,
	"REMEMBER":           models.KindRemember,
}

// markerPattern matches `[KIND: content]` for any marker name above.
// Built once from markerKinds so the two can never drift apart.
var markerPattern = buildMarkerPattern()

func buildMarkerPattern() *regexp.Regexp {
	names := make([]string, 0, len(markerKinds))
	for name := range markerKinds {
		names = append(names, name)
	}
	// Longest-first so REMEMBER_IMPORTANT matches before the REMEMBER
	// prefix it contains.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if len(names[j]) > len(names[i]) {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	return regexp.MustCompile(`(?is)\[\s*(` + strings.Join(names, "|") + `)\s*:\s*(.*?)\s*\]`)
}

// ExtractedMarker is one `[KIND: content]` span found in assistant
// text, alongside the byte range it occupied.
type ExtractedMarker struct {
	Kind    models.MemoryKind
	Content string
}

// ExtractMarkers implements §4.1 step 6 / §4.7's marker extraction: it
// removes every recognized marker span from text verbatim (no
// whitespace cleanup) and returns the markers found, in order of
// appearance — the persisted user-visible text must equal the original
// with exactly the marker spans removed, nothing more.
func ExtractMarkers(text string) (cleaned string, markers []ExtractedMarker) {
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		kindStart, kindEnd := m[2], m[3]
		contentStart, contentEnd := m[4], m[5]

		kindName := strings.ToUpper(text[kindStart:kindEnd])
		kind, ok := markerKinds[kindName]
		if !ok {
			continue
		}

		b.WriteString(text[last:start])
		last = end
		markers = append(markers, ExtractedMarker{Kind: kind, Content: text[contentStart:contentEnd]})
	}
	b.WriteString(text[last:])

	return b.String(), markers
}
