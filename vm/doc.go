// Package vm implements the Perlite virtual machine.
//
// This package contains:
//   - Scalar/array/hash value representation with context-sensitive conversion
//   - Register-based compilation units and their structural verifier
//   - Bytecode interpreter with tagged control-flow signals
//   - Call-frame and package-state tracking
//   - Dynamic string evaluation with capture remapping
//   - Process-wide intern pool and flip-flop state table
package vm
