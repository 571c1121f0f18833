package chunk

import (
	"context"
	"strings"
	"time"
)

var _ Chunker = (*TextChunker)(nil)

// TextChunker is the fallback for files with no grammar and no markdown
// structure: fixed line windows with a small overlap.
type TextChunker struct {
	maxTokens int
	overlap   int
}

// NewTextChunker creates a plain-text chunker with default sizing.
func NewTextChunker() *TextChunker {
	return &TextChunker{
		maxTokens: DefaultMaxChunkTokens,
		overlap:   DefaultOverlapTokens,
	}
}

// SupportedExtensions returns nil: the text chunker accepts anything.
func (c *TextChunker) SupportedExtensions() []string { return nil }

// Chunk splits content into overlapping line windows.
func (c *TextChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	maxLines := (c.maxTokens * TokensPerChar) / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlapLines := (c.overlap * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	now := time.Now()
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}

		body := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			ID:          chunkID(file.Path, body),
			FilePath:    file.Path,
			Content:     body,
			RawContent:  body,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   i + 1,
			EndLine:     end,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks, nil
}
