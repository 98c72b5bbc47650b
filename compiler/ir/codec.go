package ir

import "github.com/slowlang/capc/compiler/format"

// Variants registers the shared sources, locations and predicates
// with a level's codec.
func Variants(c *format.Codec) *format.Codec {
	format.Variants[Source](c, Constant(0), Abstract(""), Register(0), FrameCell{})
	format.Variants[Location](c, Abstract(""), Register(0), FrameCell{})
	format.Variants[Predicate](c, Truth{}, Comparison{}, Negation{})

	return c
}
