// Package sanitizer normalizes client input before validation.
//
// All functions are idempotent. Invalid input is passed through in its
// normalized form and left for the validator to reject.
//
// Normalization includes:
//   - Identifiers: trim surrounding whitespace
//   - Dates: trim surrounding whitespace
//   - Time ranges: drop all whitespace, so "09:00 - 09:30" becomes "09:00-09:30"
package sanitizer
