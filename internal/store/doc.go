// Package store persists collaboration sessions as one JSON document
// per session, written atomically via temp-file-and-rename.
package store
