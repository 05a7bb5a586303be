// Package vm implements the SKI combinator runtime.
//
// This package contains:
//   - Tagged 64-bit value representation
//   - The cell store and its copying collector
//   - Normalization and single-step S/K/I rewriting
//   - The printer and the reduction driver
//   - CBOR heap images
package vm
