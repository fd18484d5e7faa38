// Package transform provides the byte-level primitives the store applies
// to encoded values before persisting them: compression (zstd, s2) and
// authenticated encryption (AES-GCM, ChaCha20-Poly1305).
//
// The store only needs success or failure from these primitives; algorithm
// names are recorded in the envelope so a reader can pick the matching one.
package transform
