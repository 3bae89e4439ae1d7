// Package embedding implements C2, the Model Host: lazy load of the
// downloaded embedding model, tokenize+encode+truncate+normalize.
package embedding

import (
	_ "embed"
)

// tokenizerData is the tokenizer configuration (vocabulary, normalizer,
// post-processor) for the embedding model's architecture. Unlike the model
// weights themselves — which C5 downloads into app data at a fixed path —
// the tokenizer config is a small, architecture-fixed asset shipped with
// the binary, the same way the teacher ships its tokenizer.json.
//
//go:embed assets/tokenizer.json
var tokenizerData []byte
