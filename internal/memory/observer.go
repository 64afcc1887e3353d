package memory

// Observer receives a callback after every operation. Implementations must
// be safe for concurrent use and must not call back into the Manager.
type Observer interface {
	// ObserveOperation reports a mutation, undo or redo and the number of
	// messages it touched.
	ObserveOperation(kind OpKind, affected int, err error)
	// ObserveHistory reports a BuildHistory call.
	ObserveHistory(messages int, err error)
	// ObserveSessions reports the number of live sessions after it changed.
	ObserveSessions(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(OpKind, int, error) {}
func (nopObserver) ObserveHistory(int, error)           {}
func (nopObserver) ObserveSessions(int)                 {}
