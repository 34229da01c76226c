package hotkey

import "golang.design/x/hotkey"

func defaultModifiers() []hotkey.Modifier {
	return []hotkey.Modifier{hotkey.ModCmd, hotkey.ModShift}
}
