package tokens

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/tiktoken-go/tokenizer"
)

// Encoding names understood by NewEncoder.
const (
	EncodingO200k  = "o200k_base"
	EncodingCl100k = "cl100k_base"
)

// Encoder turns text into tokens and reports how many there are.
type Encoder interface {
	Len(text string) int
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(text string) int

// Len calls f.
func (f EncoderFunc) Len(text string) int { return f(text) }

// encodeCodec is the part of tokenizer.Codec the encoder uses.
type encodeCodec interface {
	Encode(string) ([]uint, []string, error)
}

// codecEncoder uses the offline tables bundled with tiktoken-go/tokenizer.
type codecEncoder struct {
	codec encodeCodec
}

// Len falls back to estimateTokens when the codec fails, so the window
// still trims.
func (e codecEncoder) Len(text string) int {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		n := estimateTokens(text)
		slog.Warn("token encoding failed, using estimate", "estimate", n, "error", err)
		return n
	}
	return len(ids)
}

// estimateTokens approximates a token count as one token per four runes.
func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// bpeEncoder uses pkoukk/tiktoken-go, which fetches (and caches) BPE ranks
// for encodings the bundled tables do not cover.
type bpeEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e bpeEncoder) Len(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// NewEncoder returns an encoder for the named BPE encoding. Bundled tables
// are tried first; other names are resolved through tiktoken-go, either as
// an encoding name or as a model name.
func NewEncoder(name string) (Encoder, error) {
	if codec, err := tokenizer.Get(tokenizer.Encoding(name)); err == nil {
		return codecEncoder{codec: codec}, nil
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load encoding %q: %w", name, err)
		}
	}
	return bpeEncoder{enc: enc}, nil
}
