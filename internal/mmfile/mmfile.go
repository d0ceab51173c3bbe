// Package mmfile provides platform-specific helpers for memory-mapping
// read-only inverted-list files.
package mmfile
