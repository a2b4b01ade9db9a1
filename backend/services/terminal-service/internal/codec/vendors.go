package codec

import (
	"fmt"
	"slices"
	"strings"
)

var constructors = map[string]func(Options) Codec{
	"stone":     NewStone,
	"pagseguro": NewPagSeguro,
	"getnet":    NewGetNet,
	"cielo":     NewCielo,
	"rede":      NewRede,
	"sumup":     NewSumUp,
}

// New builds the codec for vendor.
func New(vendor string, opts Options) (Codec, error) {
	ctor, ok := constructors[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("codec: no protocol for vendor %q", vendor)
	}
	return ctor(opts), nil
}

// Vendors lists the vendors with a codec, sorted.
func Vendors() []string {
	out := make([]string, 0, len(constructors))
	for v := range constructors {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
