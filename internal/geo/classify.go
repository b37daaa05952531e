package geo

// Rural-Urban Continuum categories.
const (
	ClassMetro        = "Metro"
	ClassMicropolitan = "Micropolitan"
	ClassRural        = "Rural"
)

// RUCC code bands (USDA Rural-Urban Continuum Codes 1–9).
const (
	metroMaxRUCC        = 3
	micropolitanMaxRUCC = 6
	ruralMaxRUCC        = 9
)

// ClassifyRUCC returns the urbanicity category for a county's RUCC code.
// Rules:
//   - Metro: 1–3
//   - Micropolitan: 4–6
//   - Rural: 7–9
//
// Codes outside 1–9 return "".
func ClassifyRUCC(code int) string {
	switch {
	case code < 1 || code > ruralMaxRUCC:
		return ""
	case code <= metroMaxRUCC:
		return ClassMetro
	case code <= micropolitanMaxRUCC:
		return ClassMicropolitan
	default:
		return ClassRural
	}
}

// IsRural reports whether a RUCC code is non-metropolitan (4–9).
func IsRural(code int) bool {
	return code > metroMaxRUCC && code <= ruralMaxRUCC
}
