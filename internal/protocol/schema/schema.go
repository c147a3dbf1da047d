// Package schema declares the concrete wire vocabularies spoken between the
// bridge and its peer.
package schema

import (
	"fmt"

	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/portable"
)

// Inbound tags: peer -> bridge, applied to input variables.
const (
	InAi protocol.Tag = iota
	InAai
	InWaveform
	InBi
	InMbbiDirect
	InStringin
)

// Outbound tags: bridge -> peer, produced from output variables.
const (
	OutAo protocol.Tag = iota
	OutAao
	OutBo
	OutMbboDirect
	OutStringout
)

// Declared capacities of the bounded payloads.
const (
	ArrayCap  = 64
	StringCap = 40
)

// MaxMessageSize is the connection-wide frame bound. It is the worst case of
// the largest variant: tag + count + ArrayCap i32 elements.
const MaxMessageSize = 1 + portable.CountLen + ArrayCap*portable.I32Len

var Inbound = protocol.MustVocabulary("in",
	protocol.Variant{Tag: InAi, Name: "ai", Shape: protocol.ShapeF64},
	protocol.Variant{Tag: InAai, Name: "aai", Shape: protocol.ShapeI32Array, MaxLen: ArrayCap},
	protocol.Variant{Tag: InWaveform, Name: "waveform", Shape: protocol.ShapeI32Array, MaxLen: ArrayCap},
	protocol.Variant{Tag: InBi, Name: "bi", Shape: protocol.ShapeU16},
	protocol.Variant{Tag: InMbbiDirect, Name: "mbbiDirect", Shape: protocol.ShapeU32},
	protocol.Variant{Tag: InStringin, Name: "stringin", Shape: protocol.ShapeBytes, MaxLen: StringCap},
)

var Outbound = protocol.MustVocabulary("out",
	protocol.Variant{Tag: OutAo, Name: "ao", Shape: protocol.ShapeF64},
	protocol.Variant{Tag: OutAao, Name: "aao", Shape: protocol.ShapeI32Array, MaxLen: ArrayCap},
	protocol.Variant{Tag: OutBo, Name: "bo", Shape: protocol.ShapeU16},
	protocol.Variant{Tag: OutMbboDirect, Name: "mbboDirect", Shape: protocol.ShapeU32},
	protocol.Variant{Tag: OutStringout, Name: "stringout", Shape: protocol.ShapeBytes, MaxLen: StringCap},
)

func init() {
	if err := Validate(MaxMessageSize); err != nil {
		panic(err)
	}
}

// ValidationError reports a vocabulary whose worst case does not fit a limit.
type ValidationError struct {
	Vocabulary string
	Variant    string
	Size       int
	Limit      int
}

func (e ValidationError) Error() string {
	return fmt.Sprintf(
		"schema: %s.%s worst case %d bytes exceeds limit %d",
		e.Vocabulary,
		e.Variant,
		e.Size,
		e.Limit,
	)
}

// Validate checks that every variant of both vocabularies fits limit.
func Validate(limit int) error {
	for _, vocab := range []*protocol.Vocabulary{Inbound, Outbound} {
		for _, variant := range vocab.Variants() {
			if size := variant.MaxSize(); size > limit {
				return ValidationError{
					Vocabulary: vocab.Name(),
					Variant:    variant.Name,
					Size:       size,
					Limit:      limit,
				}
			}
		}
	}
	return nil
}

// Direction names the vocabulary a variant name belongs to.
type Direction int

const (
	DirectionInbound Direction = iota + 1
	DirectionOutbound
)

func (d Direction) Vocabulary() *protocol.Vocabulary {
	if d == DirectionOutbound {
		return Outbound
	}
	return Inbound
}

// Lookup finds a variant by name in either vocabulary.
func Lookup(name string) (protocol.Variant, Direction, bool) {
	if v, ok := Inbound.ByName(name); ok {
		return v, DirectionInbound, true
	}
	if v, ok := Outbound.ByName(name); ok {
		return v, DirectionOutbound, true
	}
	return protocol.Variant{}, 0, false
}
