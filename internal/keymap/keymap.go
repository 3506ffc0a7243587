// Package keymap resolves keyboard events to canvas actions.
package keymap

import "strings"

type Action string

const (
	ActionNone Action = ""
	ActionUndo Action = "undo"
	ActionRedo Action = "redo"
)

// KeyEvent is a key press as reported by the browser.
type KeyEvent struct {
	Key      string `json:"key" validate:"required"`
	Ctrl     bool   `json:"ctrlKey"`
	Meta     bool   `json:"metaKey"`
	Shift    bool   `json:"shiftKey"`
	Platform string `json:"platform"`
	// Target is the tag name of the focused element, e.g. "INPUT".
	Target   string `json:"target"`
	Editable bool   `json:"isContentEditable"`
}

// IsMac reports whether platform names an Apple desktop.
func IsMac(platform string) bool {
	return strings.Contains(strings.ToUpper(platform), "MAC")
}

// InTextControl reports whether focus is in an element that edits text.
func (e KeyEvent) InTextControl() bool {
	if e.Editable {
		return true
	}
	switch strings.ToUpper(e.Target) {
	case "INPUT", "TEXTAREA", "SELECT":
		return true
	}
	return false
}

// Resolve maps e to an action. Cmd is the modifier on mac, Ctrl elsewhere.
// Nothing resolves while a text control has focus.
func Resolve(e KeyEvent) Action {
	if e.InTextControl() {
		return ActionNone
	}
	mod := e.Ctrl
	if IsMac(e.Platform) {
		mod = e.Meta
	}
	if !mod {
		return ActionNone
	}
	switch strings.ToLower(e.Key) {
	case "z":
		if e.Shift {
			return ActionRedo
		}
		return ActionUndo
	case "y":
		return ActionRedo
	}
	return ActionNone
}
