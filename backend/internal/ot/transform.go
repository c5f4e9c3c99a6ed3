package ot

// Transform reconciles incoming against a set of operations its author had
// not observed when the edit was made. The concurrent slice is walked in the
// order given; only entries older than the incoming timestamp shift the
// position. The result is deterministic for identical inputs, which is what
// lets independent replicas converge.
//
// Transform never assigns a version. The operation log is the single version
// authority; a second counter here would let replicas diverge.
func Transform(incoming Operation, concurrent []Operation) Operation {
	transformed := incoming
	pos := incoming.Position
	for _, existing := range concurrent {
		if existing.Timestamp < incoming.Timestamp {
			pos = adjustPosition(pos, existing)
		}
	}
	transformed.Position = pos
	transformed.Applied = true
	return transformed
}

func adjustPosition(pos int, existing Operation) int {
	switch existing.Kind {
	case Insert:
		if existing.Position <= pos {
			return pos + len(existing.Payload)
		}
	case Delete:
		deleteEnd := existing.Position + len(existing.Payload)
		if existing.Position < pos {
			if deleteEnd <= pos {
				return pos - len(existing.Payload)
			}
			// The deletion straddles pos: land at its start.
			return existing.Position
		}
	}
	return pos
}
