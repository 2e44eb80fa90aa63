package ingestion

// Split cuts text into windows of at most size characters (Unicode code points), each starting
// size-overlap characters after the previous one, until the end of text is covered. Text no longer than
// size comes back as a single chunk; empty text yields none.
func Split(text string, size int, overlap int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
