package pipeline

// Classification is the partition produced by Classify. Both slices alias the
// input candidates; the Encrypt flag on each candidate is updated in place so
// re-classification after a security level change needs no re-selection.
type Classification struct {
	MustEncrypt []*AttachmentCandidate
	Plain       []*AttachmentCandidate
}

// Classify partitions candidates by whether they must be encrypted.
//
// A file must be encrypted iff the tenant's encryption feature is enabled and
// the chosen level's rank is at or above the catalog's encryption threshold
// (the lowest rank that mandates encryption). The comparison is ordinal
// rather than id equality so that levels added between existing ones
// classify correctly.
//
// Classify is deterministic and free of side effects beyond flipping the
// Encrypt flag; it is safe to call repeatedly as the operator changes the
// level in the form.
func Classify(files []*AttachmentCandidate, levelID string, catalog Catalog, encryptionEnabled bool) Classification {
	mustEncrypt := false
	if encryptionEnabled {
		if level, ok := catalog.ByID(levelID); ok {
			if threshold, ok := catalog.EncryptionThreshold(); ok {
				mustEncrypt = level.Rank >= threshold
			}
		}
	}

	var cls Classification
	for _, f := range files {
		f.Encrypt = mustEncrypt
		if mustEncrypt {
			cls.MustEncrypt = append(cls.MustEncrypt, f)
		} else {
			cls.Plain = append(cls.Plain, f)
		}
	}
	return cls
}
