package puddle

import (
	"sort"
	"strings"
)

var characterNames = map[string]string{
	"SO": "Sol Badguy",
	"KY": "Ky Kiske",
	"MA": "May",
	"AX": "Axl Low",
	"CH": "Chipp Zanuff",
	"PO": "Potemkin",
	"FA": "Faust",
	"MI": "Millia Rage",
	"ZA": "Zato-1",
	"RA": "Ramlethal Valentine",
	"LE": "Leo Whitefang",
	"NA": "Nagoriyuki",
	"GI": "Giovanna",
	"AN": "Anji Mito",
	"IN": "I-No",
	"GO": "Goldlewis Dickinson",
	"JC": "Jack-O'",
	"HA": "Happy Chaos",
	"BA": "Baiken",
	"TE": "Testament",
	"BI": "Bridget",
	"SI": "Sin Kiske",
	"BE": "Bedman?",
	"AS": "Asuka R#",
	"JN": "Johnny",
	"EL": "Elphelt Valentine",
	"AB": "A.B.A",
	"SL": "Slayer",
	"DI": "Dizzy",
	"VE": "Venom",
	"UN": "Unika",
	"LU": "Lucy",
}

// NormalizeCharacter upper-cases a short code and reports whether it is a
// known character.
func NormalizeCharacter(code string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	_, ok := characterNames[c]
	return c, ok
}

// CharacterName returns the display name for a short code, or the code
// itself when unknown.
func CharacterName(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if n, ok := characterNames[c]; ok {
		return n
	}
	return c
}

// CharacterCodes returns every known short code, sorted.
func CharacterCodes() []string {
	out := make([]string, 0, len(characterNames))
	for c := range characterNames {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
