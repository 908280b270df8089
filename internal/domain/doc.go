// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (listing.go, application.go, platform.go, store.go, etc.)
// with shared types and cross-cutting interfaces. No implementation code beyond small value helpers - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
