package types

// Vector is an embedding vector. The dimension is fixed per knowledge base.
type Vector = []float32
