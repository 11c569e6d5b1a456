// Package keystroke defines the semantic keystroke alphabet.
//
// An external classifier maps raw key+modifier input onto this closed set of
// event kinds. Nothing in crumbeez produces these events from raw input; the
// packages downstream (editbuf, activity, eventlog) only consume them.
//
// Every Event carries a Kind discriminator and exactly the payload that kind
// needs. Use the constructors to build events and Validate to check events
// decoded from external input.
package keystroke

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// Kind is the tag of an Event.
type Kind uint8

const (
	KindTextTyped Kind = iota + 1
	KindShortcut
	KindNavigation
	KindEditControl
	KindEscape
	KindFunctionKey
	KindSystemKey
	KindPaneFocused
)

var kindNames = []string{
	KindTextTyped:   "TextTyped",
	KindShortcut:    "Shortcut",
	KindNavigation:  "Navigation",
	KindEditControl: "EditControl",
	KindEscape:      "Escape",
	KindFunctionKey: "FunctionKey",
	KindSystemKey:   "SystemKey",
	KindPaneFocused: "PaneFocused",
}

// Kinds lists every kind in alphabet order.
func Kinds() []Kind {
	return []Kind{
		KindTextTyped, KindShortcut, KindNavigation, KindEditControl,
		KindEscape, KindFunctionKey, KindSystemKey, KindPaneFocused,
	}
}

func (k Kind) String() string {
	if name, ok := lookupName(kindNames, uint8(k)); ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the Kind with the given tag name.
func ParseKind(s string) (Kind, error) {
	v, ok := parseName(kindNames, s)
	if !ok {
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, s)
	}
	return Kind(v), nil
}

func (k Kind) MarshalText() ([]byte, error) {
	name, ok := lookupName(kindNames, uint8(k))
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, uint8(k))
	}
	return []byte(name), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Direction is the direction of a navigation key.
type Direction uint8

const (
	Left Direction = iota + 1
	Right
	Up
	Down
	Home
	End
	PageUp
	PageDown
)

var directionNames = []string{
	Left: "Left", Right: "Right", Up: "Up", Down: "Down",
	Home: "Home", End: "End", PageUp: "PageUp", PageDown: "PageDown",
}

var directionGlyphs = []string{
	Left: "←", Right: "→", Up: "↑", Down: "↓",
	Home: "Home", End: "End", PageUp: "PgUp", PageDown: "PgDn",
}

func (d Direction) String() string {
	if g, ok := lookupName(directionGlyphs, uint8(d)); ok {
		return g
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// LeavesLine reports whether moving in this direction leaves the current line
// of text (Up, Down, PageUp, PageDown).
func (d Direction) LeavesLine() bool {
	switch d {
	case Up, Down, PageUp, PageDown:
		return true
	}
	return false
}

func (d Direction) MarshalText() ([]byte, error) {
	name, ok := lookupName(directionNames, uint8(d))
	if !ok {
		return nil, fmt.Errorf("%w: unknown direction %d", ErrInvalidEvent, uint8(d))
	}
	return []byte(name), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, ok := parseName(directionNames, string(b))
	if !ok {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidEvent, b)
	}
	*d = Direction(v)
	return nil
}

// EditOp is the key of an editing control event.
type EditOp uint8

const (
	OpEnter EditOp = iota + 1
	OpTab
	OpBackspace
	OpDelete
	OpInsert
)

var editOpNames = []string{
	OpEnter: "Enter", OpTab: "Tab", OpBackspace: "Backspace", OpDelete: "Delete", OpInsert: "Insert",
}

func (o EditOp) String() string {
	if name, ok := lookupName(editOpNames, uint8(o)); ok {
		return name
	}
	return fmt.Sprintf("EditOp(%d)", uint8(o))
}

// Counted reports whether the op carries a repeat count.
func (o EditOp) Counted() bool {
	return o == OpBackspace || o == OpDelete
}

func (o EditOp) MarshalText() ([]byte, error) {
	name, ok := lookupName(editOpNames, uint8(o))
	if !ok {
		return nil, fmt.Errorf("%w: unknown edit op %d", ErrInvalidEvent, uint8(o))
	}
	return []byte(name), nil
}

func (o *EditOp) UnmarshalText(b []byte) error {
	v, ok := parseName(editOpNames, string(b))
	if !ok {
		return fmt.Errorf("%w: unknown edit op %q", ErrInvalidEvent, b)
	}
	*o = EditOp(v)
	return nil
}

// SystemKey is an uncommon system-level key.
type SystemKey uint8

const (
	CapsLock SystemKey = iota + 1
	ScrollLock
	NumLock
	PrintScreen
	Pause
	Menu
)

var systemKeyNames = []string{
	CapsLock: "CapsLock", ScrollLock: "ScrollLock", NumLock: "NumLock",
	PrintScreen: "PrintScreen", Pause: "Pause", Menu: "Menu",
}

func (s SystemKey) String() string {
	if name, ok := lookupName(systemKeyNames, uint8(s)); ok {
		return name
	}
	return fmt.Sprintf("SystemKey(%d)", uint8(s))
}

// MarshalText encodes the zero SystemKey as an empty string so that events
// of other kinds omit the field.
func (s SystemKey) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	name, ok := lookupName(systemKeyNames, uint8(s))
	if !ok {
		return nil, fmt.Errorf("%w: unknown system key %d", ErrInvalidEvent, uint8(s))
	}
	return []byte(name), nil
}

func (s *SystemKey) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = 0
		return nil
	}
	v, ok := parseName(systemKeyNames, string(b))
	if !ok {
		return fmt.Errorf("%w: unknown system key %q", ErrInvalidEvent, b)
	}
	*s = SystemKey(v)
	return nil
}

// ShortcutKey is the base key of a chord: a single printable character, a
// named key ("Enter", "Left", "PageUp", ...) or a function key ("F5").
type ShortcutKey string

var shortcutGlyphs = map[ShortcutKey]string{
	"Left": "←", "Right": "→", "Up": "↑", "Down": "↓",
	"PageUp": "PgUp", "PageDown": "PgDn",
}

func (k ShortcutKey) String() string {
	if g, ok := shortcutGlyphs[k]; ok {
		return g
	}
	return string(k)
}

// Shortcut is a key chord involving Ctrl, Alt or Super.
type Shortcut struct {
	Key   ShortcutKey `json:"key"`
	Ctrl  bool        `json:"ctrl,omitempty"`
	Alt   bool        `json:"alt,omitempty"`
	Shift bool        `json:"shift,omitempty"`
	Super bool        `json:"super,omitempty"`
}

func (s Shortcut) String() string {
	var b strings.Builder
	if s.Ctrl {
		b.WriteString("Ctrl+")
	}
	if s.Alt {
		b.WriteString("Alt+")
	}
	if s.Shift {
		b.WriteString("Shift+")
	}
	if s.Super {
		b.WriteString("Super+")
	}
	b.WriteString(s.Key.String())
	return b.String()
}

// Navigation is a cursor-movement key with a repeat count.
type Navigation struct {
	Direction Direction `json:"direction"`
	Count     int       `json:"count"`
	WithShift bool      `json:"with_shift,omitempty"`
	WithCtrl  bool      `json:"with_ctrl,omitempty"`
}

// SameRun reports whether o continues a run of n: same direction and modifiers.
func (n Navigation) SameRun(o Navigation) bool {
	return n.Direction == o.Direction && n.WithShift == o.WithShift && n.WithCtrl == o.WithCtrl
}

func (n Navigation) String() string {
	var b strings.Builder
	if n.WithCtrl {
		b.WriteString("Ctrl+")
	}
	if n.WithShift {
		b.WriteString("Shift+")
	}
	b.WriteString(n.Direction.String())
	if n.Count > 1 {
		fmt.Fprintf(&b, " ×%d", n.Count)
	}
	return b.String()
}

// EditControl is an editing control key. Count is only meaningful for
// Backspace and Delete.
type EditControl struct {
	Op    EditOp `json:"op"`
	Count int    `json:"count,omitempty"`
}

func (e EditControl) String() string {
	if e.Op.Counted() && e.Count > 1 {
		return fmt.Sprintf("%s ×%d", e.Op, e.Count)
	}
	return e.Op.String()
}

// PaneFocus describes the pane that just received keyboard focus.
type PaneFocus struct {
	TabName  *string `json:"tab_name,omitempty"`
	Title    string  `json:"title"`
	Command  *string `json:"command,omitempty"`
	IsPlugin bool    `json:"is_plugin,omitempty"`
}

func (p PaneFocus) String() string {
	var cmd string
	if p.Command != nil {
		cmd = path.Base(*p.Command)
	}
	switch {
	case p.TabName != nil && cmd != "":
		return fmt.Sprintf("[%s (%s)] %s", *p.TabName, cmd, p.Title)
	case p.TabName != nil:
		return fmt.Sprintf("[%s] %s", *p.TabName, p.Title)
	case cmd != "":
		return fmt.Sprintf("[(%s)] %s", cmd, p.Title)
	}
	return p.Title
}

// Equal compares by value, including the optional fields.
func (p PaneFocus) Equal(o PaneFocus) bool {
	eq := func(a, b *string) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	return p.Title == o.Title && p.IsPlugin == o.IsPlugin &&
		eq(p.TabName, o.TabName) && eq(p.Command, o.Command)
}

// Event is one value of the keystroke alphabet.
type Event struct {
	Kind        Kind         `json:"kind"`
	Text        string       `json:"text,omitempty"`
	Shortcut    *Shortcut    `json:"shortcut,omitempty"`
	Navigation  *Navigation  `json:"navigation,omitempty"`
	Edit        *EditControl `json:"edit,omitempty"`
	FunctionKey uint8        `json:"function_key,omitempty"`
	System      SystemKey    `json:"system,omitempty"`
	Pane        *PaneFocus   `json:"pane,omitempty"`
}

// ErrInvalidEvent is returned for events whose payload does not match their kind.
var ErrInvalidEvent = errors.New("keystroke: invalid event")

// MaxFunctionKey is the highest function key number accepted.
const MaxFunctionKey = 24

func TextTyped(s string) Event { return Event{Kind: KindTextTyped, Text: s} }

func Chord(key ShortcutKey, ctrl, alt, shift, super bool) Event {
	return Event{Kind: KindShortcut, Shortcut: &Shortcut{Key: key, Ctrl: ctrl, Alt: alt, Shift: shift, Super: super}}
}

func Nav(dir Direction, count int, withShift, withCtrl bool) Event {
	return Event{Kind: KindNavigation, Navigation: &Navigation{Direction: dir, Count: count, WithShift: withShift, WithCtrl: withCtrl}}
}

func Enter() Event  { return edit(OpEnter, 0) }
func Tab() Event    { return edit(OpTab, 0) }
func Insert() Event { return edit(OpInsert, 0) }

func Backspace(count int) Event { return edit(OpBackspace, count) }
func Delete(count int) Event    { return edit(OpDelete, count) }

func edit(op EditOp, count int) Event {
	return Event{Kind: KindEditControl, Edit: &EditControl{Op: op, Count: count}}
}

func Escape() Event { return Event{Kind: KindEscape} }

func FunctionKey(n uint8) Event { return Event{Kind: KindFunctionKey, FunctionKey: n} }

func System(k SystemKey) Event { return Event{Kind: KindSystemKey, System: k} }

func PaneFocused(p PaneFocus) Event { return Event{Kind: KindPaneFocused, Pane: &p} }

// IsEdit reports whether e is an editing control with the given op.
func (e Event) IsEdit(op EditOp) bool {
	return e.Kind == KindEditControl && e.Edit != nil && e.Edit.Op == op
}

// Clone returns a deep copy of e so the copy can be mutated independently.
func (e Event) Clone() Event {
	c := e
	if e.Shortcut != nil {
		s := *e.Shortcut
		c.Shortcut = &s
	}
	if e.Navigation != nil {
		n := *e.Navigation
		c.Navigation = &n
	}
	if e.Edit != nil {
		ed := *e.Edit
		c.Edit = &ed
	}
	if e.Pane != nil {
		p := *e.Pane
		if p.TabName != nil {
			t := *p.TabName
			p.TabName = &t
		}
		if p.Command != nil {
			cmd := *p.Command
			p.Command = &cmd
		}
		c.Pane = &p
	}
	return c
}

// Validate checks that the payload matches the kind.
func (e Event) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, e.Kind, fmt.Sprintf(format, args...))
	}
	switch e.Kind {
	case KindTextTyped:
		if e.Text == "" {
			return bad("empty text")
		}
		if !utf8.ValidString(e.Text) {
			return bad("text is not valid UTF-8")
		}
	case KindShortcut:
		if e.Shortcut == nil {
			return bad("missing shortcut payload")
		}
		if e.Shortcut.Key == "" {
			return bad("missing key")
		}
	case KindNavigation:
		if e.Navigation == nil {
			return bad("missing navigation payload")
		}
		if _, ok := lookupName(directionNames, uint8(e.Navigation.Direction)); !ok {
			return bad("unknown direction %d", e.Navigation.Direction)
		}
		if e.Navigation.Count < 1 {
			return bad("count %d < 1", e.Navigation.Count)
		}
	case KindEditControl:
		if e.Edit == nil {
			return bad("missing edit payload")
		}
		if _, ok := lookupName(editOpNames, uint8(e.Edit.Op)); !ok {
			return bad("unknown op %d", e.Edit.Op)
		}
		if e.Edit.Op.Counted() && e.Edit.Count < 1 {
			return bad("%s count %d < 1", e.Edit.Op, e.Edit.Count)
		}
	case KindEscape:
	case KindFunctionKey:
		if e.FunctionKey < 1 || e.FunctionKey > MaxFunctionKey {
			return bad("function key %d out of range", e.FunctionKey)
		}
	case KindSystemKey:
		if _, ok := lookupName(systemKeyNames, uint8(e.System)); !ok {
			return bad("unknown system key %d", e.System)
		}
	case KindPaneFocused:
		if e.Pane == nil {
			return bad("missing pane payload")
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, uint8(e.Kind))
	}
	return nil
}

// String renders e the way the activity view shows it.
func (e Event) String() string {
	switch e.Kind {
	case KindTextTyped:
		return fmt.Sprintf("typed %q", e.Text)
	case KindShortcut:
		if e.Shortcut != nil {
			return "shortcut " + e.Shortcut.String()
		}
	case KindNavigation:
		if e.Navigation != nil {
			return "nav " + e.Navigation.String()
		}
	case KindEditControl:
		if e.Edit != nil {
			return "edit-ctrl " + e.Edit.String()
		}
	case KindEscape:
		return "Esc"
	case KindFunctionKey:
		return fmt.Sprintf("F%d", e.FunctionKey)
	case KindSystemKey:
		return "sys " + e.System.String()
	case KindPaneFocused:
		if e.Pane != nil {
			return "focus → " + e.Pane.String()
		}
	}
	return e.Kind.String()
}

func lookupName(names []string, v uint8) (string, bool) {
	if int(v) >= len(names) || names[v] == "" {
		return "", false
	}
	return names[v], true
}

func parseName(names []string, s string) (uint8, bool) {
	for i, name := range names {
		if name != "" && name == s {
			return uint8(i), true
		}
	}
	return 0, false
}
