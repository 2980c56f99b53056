package decompress

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

// OodleDecompressor binds to a host-provided Oodle shared library at
// runtime via dlopen/dlsym, so this module never links against (or
// redistributes) the proprietary codec itself: the library path is supplied
// by the operator through configuration (oodle_path).
type OodleDecompressor struct {
	mu   sync.Mutex
	lib  uintptr
	call func(inBuf []byte, inLen int32, outBuf []byte, outLen int32) int32
}

// OpenOodle loads the shared library at path and resolves its decompress
// entry point. The symbol name matches the public Oodle C ABI
// (OodleLZ_Decompress); no other symbol name is looked up.
func OpenOodle(path string) (*OodleDecompressor, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("opening oodle library %q: %w", path, err)
	}
	o := &OodleDecompressor{lib: lib}
	purego.RegisterLibFunc(&o.call, lib, "OodleLZ_Decompress")
	return o, nil
}

// Decompress implements Decompressor.
func (o *OodleDecompressor) Decompress(input []byte, inputLen uint16, expectedOutputLen uint32) ([]byte, error) {
	if int(inputLen) > len(input) {
		return nil, fmt.Errorf("oodle: inputLen %d exceeds buffer of %d bytes", inputLen, len(input))
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]byte, expectedOutputLen)
	n := o.call(input[:inputLen], int32(inputLen), out, int32(expectedOutputLen))
	if n != int32(expectedOutputLen) {
		return nil, fmt.Errorf("oodle: decompressed %d bytes, want %d", n, expectedOutputLen)
	}
	return out, nil
}
