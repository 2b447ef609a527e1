package control

import "github.com/sweeney/valve-sleeper/internal/state"

// StatusText returns the status label reported to the server: a low battery
// first, then a valve fault, an override, and finally the mode.
func StatusText(st *state.PersistentState) string {
	switch {
	case st.LowBattery:
		return "LOW BAT"
	case st.LastValveStatus == state.StatusBadWiring:
		return "BAD VALVE WIRING"
	case st.LastValveStatus == state.StatusLowOpenVoltage:
		return "LOW OPEN VOLTAGE"
	case st.LastValveStatus == state.StatusLowCloseVoltage:
		return "LOW CLOSE VOLTAGE"
	case st.LastValveStatus != state.StatusOK:
		return "UNDEFINED VALVE STATUS"
	case st.Override:
		return "OVERRIDE"
	default:
		return st.Mode.String()
	}
}
