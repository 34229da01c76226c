//go:build !darwin

package hotkey

import "golang.design/x/hotkey"

func defaultModifiers() []hotkey.Modifier {
	return []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}
}
