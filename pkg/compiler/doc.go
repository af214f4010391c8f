// Package compiler lowers a typed ABC program to instructions for the
// stack machine in package vm.
//
// Pipeline: JSON AST → DecodeProgram → annotate/unroll/codegen per function
// → peephole optimizer → Output.Listing → asm.Assemble
package compiler
