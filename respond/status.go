package respond

import "net/http"

// StatusTable maps status codes to their default message. Codes missing
// from the table fall back to http.StatusText.
type StatusTable map[int]string

// StatusUnknown is used when a status is set without a code.
const StatusUnknown = 520

// DefaultStatus carries the non-standard codes the gateway emits.
var DefaultStatus = StatusTable{
	520: "Unknown Error",
	521: "Web Server Is Down",
	522: "Connection Timed Out",
	523: "Origin Is Unreachable",
	524: "A Timeout Occurred",
}

// Message returns the default message for code, or "" if none is known.
func (t StatusTable) Message(code int) string {
	if msg, ok := t[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
