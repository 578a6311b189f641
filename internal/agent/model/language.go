package model

import "unicode"

// DetectLanguage returns an ISO 639-3 code guessed from the dominant script.
// Latin text defaults to "eng".
func DetectLanguage(text string) string {
	counts := map[string]int{}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Thai, r):
			counts["tha"]++
		case unicode.Is(unicode.Han, r):
			counts["zho"]++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			counts["jpn"]++
		case unicode.Is(unicode.Hangul, r):
			counts["kor"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ara"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["rus"]++
		case unicode.Is(unicode.Latin, r):
			counts["eng"]++
		}
	}
	// kana wins over shared Han ideographs
	if counts["jpn"] > 0 {
		return "jpn"
	}
	best, bestN := "eng", 0
	for _, code := range []string{"tha", "zho", "kor", "ara", "rus", "eng"} {
		if counts[code] > bestN {
			best, bestN = code, counts[code]
		}
	}
	return best
}
