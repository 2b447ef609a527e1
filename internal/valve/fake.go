package valve

import "github.com/sweeney/valve-sleeper/internal/state"

// FakeDriver is a test double that updates the state like a real driver
// without any pulse.
type FakeDriver struct {
	// FailOpen leaves the valve closed on Open, reporting OpenStatus
	// (BadWiring if unset).
	FailOpen bool

	// OpenStatus and CloseStatus are reported after the operation.
	// StatusUnknown means OK.
	OpenStatus  state.ValveStatus
	CloseStatus state.ValveStatus

	Opens     int
	Closes    int
	Shutdowns int
}

// Open marks the valve open unless FailOpen is set.
func (f *FakeDriver) Open(st *state.PersistentState, now uint64) {
	f.Opens++
	if f.FailOpen {
		st.LastValveStatus = f.OpenStatus
		if st.LastValveStatus == state.StatusUnknown {
			st.LastValveStatus = state.StatusBadWiring
		}
		return
	}
	markOpened(st, now)
	st.LastValveStatus = orOK(f.OpenStatus)
}

// Close marks the valve closed.
func (f *FakeDriver) Close(st *state.PersistentState, now uint64) {
	f.Closes++
	markClosed(st, now)
	st.LastValveStatus = orOK(f.CloseStatus)
}

// Shutdown counts calls.
func (f *FakeDriver) Shutdown() {
	f.Shutdowns++
}

func orOK(s state.ValveStatus) state.ValveStatus {
	if s == state.StatusUnknown {
		return state.StatusOK
	}
	return s
}
