// Package security builds the posture report exposed by Engine.SecurityReport.
//
// # What this package must NOT do
//
//   - Read live state. The report is derived from configuration alone.
package security
