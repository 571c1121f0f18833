package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunkerOptions configures markdown chunk sizing.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

var _ Chunker = (*MarkdownChunker)(nil)

// MarkdownChunker splits markdown along its heading structure. Each chunk
// carries its heading path ("Guide > Install > Linux") in metadata so
// search results can show where a section sits.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	headingPattern     = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker creates a markdown chunker with default sizing.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom sizing.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// SupportedExtensions returns the markdown extensions.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits a markdown file into heading-aligned chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var chunks []*Chunk
	now := time.Now()
	rest := content
	baseLine := 1

	if match := frontmatterPattern.FindString(rest); match != "" {
		chunks = append(chunks, c.frontmatterChunk(file, match, now))
		rest = rest[len(match):]
		baseLine += strings.Count(match, "\n")
	}

	sections := splitSections(rest)
	if len(sections) == 0 {
		return chunks, nil
	}

	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(file, sec, baseLine, now)...)
	}
	return chunks, nil
}

// mdSection is one heading plus the body up to the next heading.
type mdSection struct {
	level     int
	title     string
	path      string // "H1 > H2 > this"
	body      string
	startLine int // 0-indexed within the post-frontmatter content
}

func splitSections(content string) []*mdSection {
	lines := strings.Split(content, "\n")
	var sections []*mdSection
	var stack [6]string

	var current *mdSection
	var body strings.Builder
	flush := func() {
		if current != nil {
			current.body = body.String()
			sections = append(sections, current)
		}
		body.Reset()
	}

	for lineNum, line := range lines {
		match := headingPattern.FindStringSubmatch(line)
		if match == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()

		level := len(match[1])
		title := strings.TrimSpace(match[2])
		stack[level-1] = title
		for i := level; i < len(stack); i++ {
			stack[i] = ""
		}

		var parts []string
		for i := 0; i < level; i++ {
			if stack[i] != "" {
				parts = append(parts, stack[i])
			}
		}

		current = &mdSection{
			level:     level,
			title:     title,
			path:      strings.Join(parts, " > "),
			startLine: lineNum,
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	// Preamble before the first heading becomes an untitled section.
	if len(sections) == 0 && strings.TrimSpace(content) != "" {
		sections = append(sections, &mdSection{body: content})
	}
	return sections
}

func (c *MarkdownChunker) frontmatterChunk(file *FileInput, content string, now time.Time) *Chunk {
	lineCount := strings.Count(content, "\n")
	if lineCount == 0 {
		lineCount = 1
	}

	return &Chunk{
		ID:          chunkID(file.Path, content),
		FilePath:    file.Path,
		Content:     content,
		RawContent:  content,
		ContentType: ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   1,
		EndLine:     lineCount,
		Metadata: map[string]string{
			"type":         "frontmatter",
			"header_path":  "",
			"header_level": "0",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *MarkdownChunker) sectionChunks(file *FileInput, sec *mdSection, baseLine int, now time.Time) []*Chunk {
	body := strings.TrimRight(sec.body, "\n")
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil
	}
	// A heading with no body under it carries no searchable content.
	if lines := strings.Split(trimmed, "\n"); len(lines) <= 1 && headingPattern.MatchString(trimmed) {
		return nil
	}

	startLine := baseLine + sec.startLine
	if estimateTokens(body) <= c.options.MaxChunkTokens {
		return []*Chunk{c.newSectionChunk(file, sec, body, startLine, now)}
	}
	return c.splitSection(file, sec, body, startLine, now)
}

// splitSection breaks an oversized section at paragraph boundaries,
// keeping fenced code blocks whole. Continuation chunks repeat the heading
// path in a comment so they stay attributable.
func (c *MarkdownChunker) splitSection(file *FileInput, sec *mdSection, body string, startLine int, now time.Time) []*Chunk {
	paragraphs := splitParagraphs(body)

	var chunks []*Chunk
	var buf strings.Builder
	chunkStart := startLine
	linesSeen := 0

	emit := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, c.newSectionChunk(file, sec, strings.TrimRight(buf.String(), "\n "), chunkStart, now))
		buf.Reset()
		chunkStart = startLine + linesSeen
	}

	for i, para := range paragraphs {
		paraTokens := estimateTokens(para)
		if buf.Len() > 0 && estimateTokens(buf.String())+paraTokens > c.options.MaxChunkTokens {
			emit()
			if i > 0 {
				buf.WriteString("<!-- Section: ")
				buf.WriteString(sec.path)
				buf.WriteString(" -->\n\n")
			}
		}
		buf.WriteString(para)
		buf.WriteString("\n\n")
		linesSeen += strings.Count(para, "\n") + 2
	}
	emit()

	return chunks
}

// splitParagraphs splits on blank lines but never inside a fenced code
// block.
func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")

	var paragraphs []string
	var fence strings.Builder
	inFence := false

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		if inFence {
			fence.WriteString("\n\n")
			fence.WriteString(trimmed)
			if strings.Contains(trimmed, "```") {
				paragraphs = append(paragraphs, fence.String())
				fence.Reset()
				inFence = false
			}
			continue
		}

		if strings.Count(trimmed, "```")%2 == 1 {
			inFence = true
			fence.WriteString(trimmed)
			continue
		}

		paragraphs = append(paragraphs, trimmed)
	}

	if inFence {
		paragraphs = append(paragraphs, fence.String())
	}
	return paragraphs
}

func (c *MarkdownChunker) newSectionChunk(file *FileInput, sec *mdSection, body string, startLine int, now time.Time) *Chunk {
	return &Chunk{
		ID:          chunkID(file.Path, body),
		FilePath:    file.Path,
		Content:     body,
		RawContent:  body,
		ContentType: ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   startLine,
		EndLine:     startLine + strings.Count(body, "\n"),
		Metadata: map[string]string{
			"header_path":   sec.path,
			"header_level":  strconv.Itoa(sec.level),
			"section_title": sec.title,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
