package chunk

import "strings"

// windowLines groups lines into chunks bounded by maxBytes, with
// overlapBytes of trailing context repeated at each boundary.
// startLine is the 1-indexed line number of lines[0] in the file.
// Blank-only groups are skipped.
func windowLines(lines []string, startLine, maxBytes, overlapBytes int, language string) []*CodeChunk {
	var chunks []*CodeChunk

	i := 0
	for i < len(lines) {
		size := 0
		end := i
		for end < len(lines) {
			lineBytes := len(lines[end]) + 1
			if size > 0 && size+lineBytes > maxBytes {
				break
			}
			size += lineBytes
			end++
		}

		segment := lines[i:end]
		if !allBlank(segment) {
			content := strings.Join(segment, "\n") + "\n"
			chunks = append(chunks, &CodeChunk{
				Language:  language,
				Content:   content,
				StartLine: startLine + i,
				EndLine:   startLine + end - 1,
			})
		}

		if end >= len(lines) {
			break
		}

		// Step back to provide overlap, measured in bytes.
		next := end
		if overlapBytes > 0 {
			back := 0
			for next > i+1 && back < overlapBytes {
				next--
				back += len(lines[next]) + 1
			}
		}
		if next <= i {
			next = i + 1
		}
		i = next
	}

	return chunks
}

func allBlank(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}
