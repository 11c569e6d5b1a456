// Package editbuf reconstructs the text a user actually ended up with from a
// stream of classified keystroke events.
//
// A Buffer holds one in-progress line of text and a cursor. A Line wraps an
// optional Buffer and applies events to it: text and editing keys mutate the
// buffer, cursor keys move within it, and anything else seals it, handing the
// finished text back to the caller as a TextTyped event.
package editbuf

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Buffer is a non-empty line of text with a cursor. The cursor is a byte
// offset that always sits on a rune boundary of the text.
type Buffer struct {
	text   string
	cursor int
}

func newBuffer(s string) *Buffer {
	return &Buffer{text: s, cursor: len(s)}
}

// Text returns the current text.
func (b *Buffer) Text() string { return b.text }

// Cursor returns the cursor's byte offset into Text.
func (b *Buffer) Cursor() int { return b.cursor }

func (b *Buffer) insert(s string) {
	b.text = b.text[:b.cursor] + s + b.text[b.cursor:]
	b.cursor += len(s)
}

// backspace removes the rune ending at the cursor. It reports false when the
// cursor is at the start.
func (b *Buffer) backspace() bool {
	if b.cursor == 0 {
		return false
	}
	prev := prevBoundary(b.text, b.cursor)
	b.text = b.text[:prev] + b.text[b.cursor:]
	b.cursor = prev
	return true
}

// deleteForward removes the rune starting at the cursor. It reports false
// when the cursor is at the end.
func (b *Buffer) deleteForward() bool {
	if b.cursor >= len(b.text) {
		return false
	}
	next := nextBoundary(b.text, b.cursor)
	b.text = b.text[:b.cursor] + b.text[next:]
	return true
}

func (b *Buffer) empty() bool { return b.text == "" }

func (b *Buffer) left(count int, word bool) {
	if word {
		b.cursor = wordLeft(b.text, b.cursor)
		return
	}
	for i := 0; i < count && b.cursor > 0; i++ {
		b.cursor = prevBoundary(b.text, b.cursor)
	}
}

func (b *Buffer) right(count int, word bool) {
	if word {
		b.cursor = wordRight(b.text, b.cursor)
		return
	}
	for i := 0; i < count && b.cursor < len(b.text); i++ {
		b.cursor = nextBoundary(b.text, b.cursor)
	}
}

func (b *Buffer) home() { b.cursor = 0 }
func (b *Buffer) end()  { b.cursor = len(b.text) }

// prevBoundary returns the start of the rune that ends at pos, or 0.
func prevBoundary(s string, pos int) int {
	if pos <= 0 {
		return 0
	}
	_, size := utf8.DecodeLastRuneInString(s[:pos])
	return pos - size
}

// nextBoundary returns the offset just past the rune that starts at pos, or
// len(s).
func nextBoundary(s string, pos int) int {
	if pos >= len(s) {
		return len(s)
	}
	_, size := utf8.DecodeRuneInString(s[pos:])
	return pos + size
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// wordLeft skips any non-word runes before pos, then the word before them,
// and returns the start of that word.
func wordLeft(s string, pos int) int {
	for pos > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:pos])
		if isWordRune(r) {
			break
		}
		pos -= size
	}
	for pos > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:pos])
		if !isWordRune(r) {
			break
		}
		pos -= size
	}
	return pos
}

// wordRight skips the rest of the word at pos, then the non-word runes after
// it, and returns the start of the next word or len(s).
func wordRight(s string, pos int) int {
	rest := s[pos:]
	i := strings.IndexFunc(rest, func(r rune) bool { return !isWordRune(r) })
	if i < 0 {
		return len(s)
	}
	rest = rest[i:]
	j := strings.IndexFunc(rest, isWordRune)
	if j < 0 {
		return len(s)
	}
	return pos + i + j
}
