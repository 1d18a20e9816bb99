package pattern

// RegisterBuiltins adds every built-in kind to r.
func RegisterBuiltins(r *Registry) error {
	kinds := []Kind{
		magicKind{},
		terminatorKind{},
		uintKind{},
		textKind{},
		bytesKind{},
		paddingKind{},
		prefixedKind{},
		bitPackedKind{},
		paletteKind{},
		checksumChunkKind{},
		crc32Kind{},
		subBlocksKind{},
		groupKind{},
		switchKind{},
	}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return err
		}
	}
	return nil
}
