//go:build !amd64 && !arm64 || noasm

package websocket

// init selects the portable word-at-a-time path on architectures without a
// dedicated SIMD tier above (or when built with -tags noasm).
func init() {
	maskFunc = maskWord64
}
