//go:build darwin && arm64

package embedding

import (
	_ "embed"
)

//go:embed assets/lib/darwin-arm64/libonnxruntime.dylib
var onnxRuntimeLib []byte

// onnxRuntimeProvidersLib has no macOS counterpart; providers are built
// into the main dylib on this platform.
var onnxRuntimeProvidersLib []byte

const onnxRuntimeLibName = "libonnxruntime.dylib"
const onnxRuntimeProvidersLibName = ""
