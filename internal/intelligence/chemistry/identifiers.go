package chemistry

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// hashLetters derives n uppercase letters from s. The hash is re-seeded with
// a counter whenever it runs short of base-26 digits.
func hashLetters(s string, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	round := uint64(0)
	h := xxhash.Sum64String(s)
	for sb.Len() < n {
		if h < 26 {
			round++
			h = xxhash.Sum64String(fmt.Sprintf("%d|%s", round, s))
		}
		sb.WriteByte(byte('A' + h%26))
		h /= 26
	}
	return sb.String()
}

// skeleton drops bond orders, charges and hydrogen counts from a canonical
// SMILES so the first key block depends on connectivity only, the way a
// standard InChIKey's first block does.
func skeleton(canonical string) string {
	r := strings.NewReplacer("=", "", "#", "", "+", "", "-", "", "[", "", "]", "", "H", "")
	return strings.ToUpper(r.Replace(canonical))
}

// protonationFlag is the last InChIKey block: N for neutral, O or M for a
// net positive or negative charge.
func protonationFlag(charge int) string {
	switch {
	case charge > 0:
		return "O"
	case charge < 0:
		return "M"
	}
	return "N"
}

// builtinIdentifiers produces an InChI-like string and a standard-shaped key
// from the canonical form. They are stable for a given structure but are not
// IUPAC identifiers. formula carries no charge suffix.
func builtinIdentifiers(canonical, formula string, charge int) (inchi, key string) {
	inchi = fmt.Sprintf("InChI=1S/%s/x%016x", formula, xxhash.Sum64String(canonical))
	if charge != 0 {
		inchi += fmt.Sprintf("/q%+d", charge)
	}
	key = hashLetters("skeleton|"+skeleton(canonical), 14) + "-" +
		hashLetters("full|"+canonical, 8) + "SA-" + protonationFlag(charge)
	return inchi, key
}

// PlaceholderSuffix marks keys produced without a chemistry engine.
const PlaceholderSuffix = "NOCHEM"

// PlaceholderInChIKey returns an InChIKey-shaped key derived from the raw
// structure text. It lets degraded validation dedupe identical inputs while
// never colliding with a real key, because the suffix is not a valid flag.
func PlaceholderInChIKey(text string) string {
	t := strings.TrimSpace(text)
	return hashLetters("placeholder|"+t, 14) + "-" + hashLetters("placeholder2|"+t, 10) + "-" + PlaceholderSuffix
}

// IsPlaceholderInChIKey reports whether key came from PlaceholderInChIKey.
func IsPlaceholderInChIKey(key string) bool {
	return len(key) == 14+1+10+1+len(PlaceholderSuffix) && strings.HasSuffix(key, "-"+PlaceholderSuffix)
}
