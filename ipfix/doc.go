// Package ipfix holds the decoding metadata shared across pipeline stages:
// the versioned information-element dictionary, templates describing record
// layout, and per-stream template tables with sequence counters.
//
// Element definitions reuse github.com/CN-TU/go-ipfix so the dictionary
// speaks the same vocabulary as the rest of the flow ecosystem (IANA specs,
// enterprise numbers, abstract data types).
//
// Dictionaries and template tables are read-mostly and shared by reference:
// messages already forwarded downstream may still hold pointers into them.
// They are therefore never freed synchronously; a retired instance is marked
// via Dispose() only when it rides a garbage carrier through the pipeline's
// ordered delivery, after every message that may reference it.
package ipfix
