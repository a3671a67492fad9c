// Package storage provides the durable key-value backends the annotation
// store persists into. Values are opaque bytes; the annotation id is the key.
package storage
