package ot

// Apply splices one operation into content. Inserts past the end append
// rather than erroring; deletes past the end are trimmed or ignored. The
// leniency is deliberate: a stale delete against content already shortened
// by concurrent edits must not fail the replay.
func Apply(content string, op Operation) string {
	pos := op.Position
	if pos < 0 {
		pos = 0
	}
	switch op.Kind {
	case Insert:
		if pos <= len(content) {
			return content[:pos] + op.Payload + content[pos:]
		}
		return content + op.Payload
	case Delete:
		if pos < len(content) {
			end := pos + len(op.Payload)
			if end > len(content) {
				end = len(content)
			}
			return content[:pos] + content[end:]
		}
	}
	return content
}

// Project folds an ordered applied-operation sequence into document text.
// Callers pass operations sorted ascending by timestamp; entries with
// Applied unset are skipped. Pure and replayable: running it twice over the
// same input yields identical output.
func Project(ops []Operation) string {
	content := ""
	for _, op := range ops {
		if !op.Applied {
			continue
		}
		content = Apply(content, op)
	}
	return content
}
