// Package vm implements the object instance runtime.
//
// This package contains:
//   - Tagged value representation and copy-on-write arrays
//   - Class layouts, traits and property slots
//   - Instance lifecycle: allocation, reference counting, destructors,
//     resurrection and the end-of-task sweep
//   - Property access with visibility, immutability and magic accessors
//   - Conversion, comparison, cloning and array projection
//   - Built-in kinds dispatched through a capability table
package vm
