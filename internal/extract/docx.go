package extract

import (
	"archive/zip"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/textclean"
)

// docxDocument is the minimal WordprocessingML schema this parser reads:
// word/document.xml's body, as a flat sequence of paragraphs each holding a
// sequence of text runs.
type docxDocument struct {
	XMLName xml.Name   `xml:"document"`
	Body    docxBody   `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []string `xml:"t"`
}

func (p docxParagraph) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t)
		}
	}
	return strings.TrimSpace(b.String())
}

var roleHeadingRE = regexp.MustCompile(`(?i)^(you|chatgpt|claude|user|assistant|system)\s*(said)?:?\s*$`)

var (
	isoDateRE   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDateRE = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	longDateRE  = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}\b`)
)

// DocxExtractor reads a Word document produced by printing or exporting a
// chat transcript: paragraphs are grouped under role headings like "You:" or
// "ChatGPT said:" until the next heading or a blank-paragraph boundary.
type DocxExtractor struct{}

func NewDocxExtractor() *DocxExtractor { return &DocxExtractor{} }

func (e *DocxExtractor) Name() string    { return "docx" }
func (e *DocxExtractor) Version() string { return "1.0.0" }

func (e *DocxExtractor) Metadata() Metadata {
	return Metadata{
		Name:       "DOCX",
		Version:    e.Version(),
		Extensions: []string{".docx"},
		AutoDetect: false,
		Streaming:  false,
		FileBased:  true,
		FormatSpec: "Word document with role headings (You/ChatGPT/Claude/User/Assistant/System) followed by paragraph content blocks",
	}
}

// Detect always returns false: DOCX has no auto_detect JSON signature, it's
// selected by file extension instead.
func (e *DocxExtractor) Detect(raw json.RawMessage) (bool, int) { return false, 0 }

func (e *DocxExtractor) ExtractFromBytes(ctx context.Context, raw json.RawMessage, opts Options) ([]ExtractedConversation, error) {
	return nil, fmt.Errorf("docx: extractor is file-based, use ExtractFromFile")
}

func (e *DocxExtractor) ExtractFromFile(ctx context.Context, path, filename string, opts Options) ([]ExtractedConversation, string, error) {
	paragraphs, err := readDocxParagraphs(path)
	if err != nil {
		return nil, "", err
	}

	messages, timestamps := extractDocxMessages(paragraphs)
	if len(messages) == 0 {
		return nil, filename, nil
	}

	title := strings.TrimSuffix(filename, ".docx")
	ec := ExtractedConversation{
		Title:    title,
		Source:   scrytype.SourceDocx,
		Messages: messages,
	}
	if len(timestamps) > 0 {
		ec.CreatedAt = timestamps[0]
		ec.UpdatedAt = timestamps[len(timestamps)-1]
	}
	return []ExtractedConversation{ec}, filename, nil
}

func readDocxParagraphs(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("docx: open %s: %w", path, err)
	}
	defer zr.Close()

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("docx: %s has no word/document.xml", path)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: open document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("docx: read document.xml: %w", err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("docx: parse document.xml: %w", err)
	}

	out := make([]string, 0, len(doc.Body.Paragraphs))
	for _, p := range doc.Body.Paragraphs {
		out = append(out, p.text())
	}
	return out, nil
}

func extractDocxMessages(paragraphs []string) ([]ExtractedMessage, []time.Time) {
	var messages []ExtractedMessage
	var timestamps []time.Time

	var currentRole scrytype.Role
	var buf []string
	flush := func() {
		if currentRole == "" || len(buf) == 0 {
			buf = nil
			return
		}
		content := textclean.Clean(strings.Join(buf, "\n"))
		buf = nil
		if content == "" {
			return
		}
		messages = append(messages, ExtractedMessage{Role: currentRole, Content: content})
	}

	for _, para := range paragraphs {
		trimmed := strings.TrimSpace(para)
		if ts, ok := findDocxDate(trimmed); ok {
			timestamps = append(timestamps, ts)
		}
		if trimmed == "" {
			flush()
			currentRole = ""
			continue
		}
		if m := roleHeadingRE.FindStringSubmatch(trimmed); m != nil {
			flush()
			currentRole = docxRoleFromHeading(m[1])
			continue
		}
		buf = append(buf, trimmed)
	}
	flush()

	return messages, timestamps
}

func docxRoleFromHeading(heading string) scrytype.Role {
	switch strings.ToLower(heading) {
	case "you", "user":
		return scrytype.RoleUser
	case "chatgpt", "claude", "assistant":
		return scrytype.RoleAssistant
	case "system":
		return scrytype.RoleSystem
	default:
		return ""
	}
}

func findDocxDate(s string) (time.Time, bool) {
	if m := isoDateRE.FindString(s); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t.UTC(), true
		}
	}
	if m := slashDateRE.FindString(s); m != "" {
		if t, err := time.Parse("1/2/2006", m); err == nil {
			return t.UTC(), true
		}
	}
	if m := longDateRE.FindString(s); m != "" {
		if t, err := time.Parse("January 2, 2006", m); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
