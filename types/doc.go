// Package types defines shared primitives for the graphflow retrieval core:
// the error taxonomy used across stores and retrievers, and the vector alias
// passed between embedding providers and vector-capable stores.
package types
