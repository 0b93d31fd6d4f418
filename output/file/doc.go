// Package file provides a file output stage writing decoded flow records
// and session lifecycle events as JSON lines.
//
// The stage forwards every message it writes, so it can sit anywhere in the
// chain; garbage carriers pass it untouched on their way to the terminal.
package file
