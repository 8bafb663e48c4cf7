// Package idgen wraps identifier generation so that it can be stubbed in
// tests. Callers should treat identifiers as opaque strings.
package idgen
