//go:build corerr_debug

package object

// assertNotDead panics if o's owning refcount has already reached zero.
// Built only with -tags corerr_debug, per spec §9: "Behavior when Retain is
// called on an object with ref==0 is undefined in the source; specify as
// programmer error (assert in debug, undefined in release)."
func assertNotDead(o *Object) {
	if o.Ref() <= 0 {
		panic("object: Retain called after refcount reached zero")
	}
}
