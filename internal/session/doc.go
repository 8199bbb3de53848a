// Package session hosts the open editing sessions of the service.
//
// Each workflow id maps to at most one Session holding the Document and its
// Controller. Intents for one document are applied under the session lock,
// concurrent opens share a single store load, and change events fan out to
// subscribers over buffered channels without ever blocking the writer.
// A background loop autosaves dirty sessions and evicts idle ones.
package session
