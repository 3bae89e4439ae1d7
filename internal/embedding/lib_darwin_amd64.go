//go:build darwin && amd64

package embedding

import (
	_ "embed"
)

//go:embed assets/lib/darwin-amd64/libonnxruntime.dylib
var onnxRuntimeLib []byte

// onnxRuntimeProvidersLib has no macOS counterpart; providers are built
// into the main dylib on this platform.
var onnxRuntimeProvidersLib []byte

const onnxRuntimeLibName = "libonnxruntime.dylib"
const onnxRuntimeProvidersLibName = ""
