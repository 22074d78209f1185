// Package domain defines the core types and contracts of the colorization
// pipeline: uploaded batches, result artifacts, and the store interfaces the
// adapters (Redis, in-memory) implement. It depends on no adapter package.
package domain
