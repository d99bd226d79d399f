// Package validation checks user-supplied tool binaries before tinymistd
// runs them.
//
// ValidateBinaryFile is a cheap filesystem check used on every resolution of
// a custom binary path. ExecutionValidator additionally runs `<binary> -V` and
// compares the reported version against types.RequiredVersion. Neither returns
// an error: failures come back as a result whose Message can be shown to the
// user unchanged.
package validation
