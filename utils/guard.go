package utils

// Guard runs a cleanup only when the function that created it returns before declaring success.
// It replaces the "defer if !success" dance around partially built resources:
//
//	guard := NewGuard(func() { os.Remove(tmp) })
//	defer guard.OnFail()
//	if err := build(); err != nil { return err }
//	guard.Success()
//	return nil
type Guard struct {
	OnFail  func()
	success bool
}

// NewGuard returns a Guard that calls onFailCleanup from OnFail unless Success was called.
func NewGuard(onFailCleanup func()) *Guard {
	ret := &Guard{}
	ret.OnFail = func() {
		if !ret.success {
			onFailCleanup()
		}
	}
	return ret
}

// Success disarms the cleanup.
func (guard *Guard) Success() {
	guard.success = true
}
