package protocol

import "fmt"

// Vocabulary is a closed set of variants for one direction of the stream.
// Decoding is exhaustive over the declared tags; anything else is corrupt.
type Vocabulary struct {
	name     string
	variants []Variant
	byTag    [256]int8
	maxSize  int
}

// NewVocabulary validates and indexes the declared variants.
func NewVocabulary(name string, variants ...Variant) (*Vocabulary, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: vocabulary %q is empty", ErrInvalidVariant, name)
	}
	if len(variants) > 127 {
		return nil, fmt.Errorf("%w: vocabulary %q has %d variants", ErrInvalidVariant, name, len(variants))
	}
	v := &Vocabulary{name: name, variants: make([]Variant, 0, len(variants))}
	for i := range v.byTag {
		v.byTag[i] = -1
	}
	names := make(map[string]struct{}, len(variants))
	for _, variant := range variants {
		if err := variant.validate(); err != nil {
			return nil, err
		}
		if v.byTag[variant.Tag] >= 0 {
			return nil, fmt.Errorf("%w: vocabulary %q duplicate tag %d", ErrInvalidVariant, name, variant.Tag)
		}
		if _, ok := names[variant.Name]; ok {
			return nil, fmt.Errorf("%w: vocabulary %q duplicate name %q", ErrInvalidVariant, name, variant.Name)
		}
		names[variant.Name] = struct{}{}
		v.byTag[variant.Tag] = int8(len(v.variants))
		v.variants = append(v.variants, variant)
		if size := variant.MaxSize(); size > v.maxSize {
			v.maxSize = size
		}
	}
	return v, nil
}

// MustVocabulary is NewVocabulary for package-level declarations.
func MustVocabulary(name string, variants ...Variant) *Vocabulary {
	v, err := NewVocabulary(name, variants...)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Vocabulary) Name() string {
	return v.name
}

// MaxMessageSize is the largest encoded size any variant can reach.
func (v *Vocabulary) MaxMessageSize() int {
	return v.maxSize
}

func (v *Vocabulary) Variant(tag Tag) (Variant, bool) {
	idx := v.byTag[tag]
	if idx < 0 {
		return Variant{}, false
	}
	return v.variants[idx], true
}

func (v *Vocabulary) ByName(name string) (Variant, bool) {
	for _, variant := range v.variants {
		if variant.Name == name {
			return variant, true
		}
	}
	return Variant{}, false
}

// Variants returns the declared variants in declaration order.
func (v *Vocabulary) Variants() []Variant {
	out := make([]Variant, len(v.variants))
	copy(out, v.variants)
	return out
}
