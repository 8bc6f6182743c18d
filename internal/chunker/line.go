package chunker

import (
	"strings"

	"github.com/seanblong/codesage/pkg/models"
)

// chunkLines splits source into chunks at blank-line boundaries: a split
// triggers on two consecutive blank lines (once the buffer has reached
// minLines) or when the buffer reaches maxLines. The final buffer is
// flushed at EOF; if it is the only chunk and falls short of minLines, it
// is still emitted.
func chunkLines(source string, minLines, maxLines int) []models.CodeChunk {
	if strings.TrimSpace(source) == "" {
		return nil
	}

	lines := strings.Split(source, "\n")
	var chunks []models.CodeChunk
	currentStart := 0
	var current []string
	blankCount := 0

	flush := func(end int, trim bool) {
		text := strings.Join(current, "\n")
		if trim {
			text = strings.TrimRight(text, " \t\n\r")
		}
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, models.CodeChunk{
				Text:      text,
				StartLine: currentStart + 1,
				EndLine:   currentStart + len(current),
				ASTType:   "block",
				Name:      "",
			})
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			current = append(current, line)
			if (blankCount >= 2 || len(current) >= maxLines) && len(current) >= minLines {
				flush(i, true)
				currentStart = i + 1
				current = nil
				blankCount = 0
			}
		} else {
			blankCount = 0
			current = append(current, line)
			if len(current) >= maxLines {
				flush(i, false)
				currentStart = i + 1
				current = nil
				blankCount = 0
			}
		}
	}

	if len(current) > 0 {
		text := strings.TrimRight(strings.Join(current, "\n"), " \t\n\r")
		if strings.TrimSpace(text) != "" {
			if len(current) >= minLines || len(chunks) == 0 {
				chunks = append(chunks, models.CodeChunk{
					Text:      text,
					StartLine: currentStart + 1,
					EndLine:   currentStart + len(current),
					ASTType:   "block",
					Name:      "",
				})
			}
		}
	}

	return chunks
}
