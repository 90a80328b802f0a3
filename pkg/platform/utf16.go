package platform

import "unicode/utf16"

// Telegram counts entity offsets in UTF-16 code units, Entity and Link in
// runes.

func utf16Len(r rune) int {
	return len(utf16.Encode([]rune{r}))
}

// RuneToUTF16 converts a rune offset into text to a UTF-16 offset.
func RuneToUTF16(text []rune, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	n := 0
	for _, r := range text[:offset] {
		n += utf16Len(r)
	}
	return n
}

// UTF16ToRune converts a UTF-16 offset into text to a rune offset.
func UTF16ToRune(text []rune, offset int) int {
	n := 0
	for i, r := range text {
		if n >= offset {
			return i
		}
		n += utf16Len(r)
	}
	return len(text)
}
