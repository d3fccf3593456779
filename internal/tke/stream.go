package tke

// XORKeyStream adapts Process to the crypto/cipher.Stream interface
// so the engine can sit under a cipher layer (spec.md §2: "the cipher
// layer (not in scope) consumes keystream blocks from TKE"). It
// panics on misuse (bad length, no key installed) since
// cipher.Stream has no error return; callers that need an error
// should call Process directly.
func (e *Engine) XORKeyStream(dst, src []byte) {
	if err := e.Process(dst, src); err != nil {
		panic(err)
	}
}
