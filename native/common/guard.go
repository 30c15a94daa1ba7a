package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports operator pause switches by module name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when module is switched off.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
