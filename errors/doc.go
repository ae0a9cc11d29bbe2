// Package errors classifies failures for the health-monitor service.
//
// Every error crossing a component boundary falls into one of three classes:
//
//   - Transient: the bus dropped, a subscriber went away, a queue was full. Retry or drop.
//   - Invalid: a reading that is not a JSON object, a bad query parameter, bad config values.
//   - Fatal: the process cannot continue (listener bind failure, invalid startup config).
//
// Wrap adds "component.method: action failed" context without classifying. The
// WrapTransient, WrapInvalid and WrapFatal helpers attach a class:
//
//	if err := json.Unmarshal(data, &fields); err != nil {
//	    return errors.WrapInvalid(errors.ErrInvalidData, "Bridge", "Decode", "unmarshal reading")
//	}
//
// Callers branch on IsTransient, IsInvalid and IsFatal rather than matching strings.
// The HTTP gateway uses the class to pick a status code.
package errors
