// Package command runs external programs with a mandatory timeout.
//
// Callers describe an invocation as a Spec (argv array, stdin, timeout) and
// get back a Result with captured output and exit status. Runner is the seam
// used by extractors and tests to avoid shelling out.
package command
