// Package preview builds the command line of a tinymist preview server.
//
// Options maps one to one onto the flags of `tinymist preview`. Inputs are
// emitted sorted by key so the same options always produce the same argv.
// The document path is always the last argument.
package preview
