package codec

import (
	"github.com/webitel/corehub/internal/corerr"
)

// ResolveLayers maps configured layer names (spec §6's codecChain list) to
// concrete Layer values, in the given order. Used by cmd's service wiring
// to turn a config-file string list into the Layer slice NewChain expects.
//
// "aesgcm" isn't resolvable by name alone since it needs key material;
// callers that want encryption build an AESGCM layer directly via
// NewAESGCM and pass it alongside whatever ResolveLayers returns for the
// rest of the chain.
func ResolveLayers(names []string) ([]Layer, error) {
	layers := make([]Layer, 0, len(names))
	for _, name := range names {
		switch name {
		case "lenprefix":
			// The base framing codec every Chain already terminates in; no
			// transform layer to add.
		case "lz4":
			layers = append(layers, LZ4{})
		default:
			return nil, corerr.New(corerr.KindArg, "unknown codec layer: "+name)
		}
	}
	return layers, nil
}
