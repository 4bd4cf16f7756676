//go:build !corerr_debug

package object

// assertNotDead is a no-op in release builds: calling Retain on a dead
// object is undefined behavior, not a checked error, per spec §9.
func assertNotDead(*Object) {}
