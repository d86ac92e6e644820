// Package extraction turns stored requirement documents into plain text.
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/models"
)

const (
	LanguageEnglish = "en"
	LanguageUnknown = "und"

	contentTypeText = "text/plain; charset=utf-8"
)

// Blobs is the object storage the extractor reads from and writes to.
type Blobs interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// TextKey is the object key of a requirement's extracted text.
func TextKey(requirementID string) string {
	return fmt.Sprintf("requirements/%s/extracted.txt", requirementID)
}

// PlainText extracts text and HTML documents. HTML is reduced to its main
// content with readability, or stripped of markup when that finds nothing;
// everything else is treated as text.
type PlainText struct {
	store  Blobs
	logger *zap.Logger
}

func New(store Blobs, logger *zap.Logger) *PlainText {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlainText{store: store, logger: logger.Named("extraction")}
}

func (p *PlainText) ExtractFromS3(ctx context.Context, key string) (*models.ExtractionResult, error) {
	raw, err := p.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	text := normalize(raw)
	if isHTML(key, raw) {
		text = p.htmlText(key, raw, text)
	}
	return Analyze(text), nil
}

// htmlText prefers the readability main content and falls back to the
// tag-stripped document.
func (p *PlainText) htmlText(key string, raw []byte, normalized string) string {
	article, err := readability.FromReader(bytes.NewReader(raw), &url.URL{Path: key})
	if err == nil {
		if content := strings.TrimSpace(article.TextContent); content != "" {
			return normalize([]byte(content))
		}
	} else {
		p.logger.Warn("readability failed, stripping tags", zap.String("key", key), zap.Error(err))
	}
	return normalize([]byte(stripTags(normalized)))
}

func (p *PlainText) SaveExtractedText(ctx context.Context, requirementID, text string) (string, error) {
	key := TextKey(requirementID)
	if err := p.store.Upload(ctx, key, []byte(text), contentTypeText); err != nil {
		return "", fmt.Errorf("save extracted text: %w", err)
	}
	return key, nil
}

// Analyze counts words and form-feed separated pages and guesses the language.
func Analyze(text string) *models.ExtractionResult {
	words := strings.Fields(text)
	pages := 0
	if strings.TrimSpace(text) != "" {
		pages = strings.Count(text, "\f") + 1
	}
	return &models.ExtractionResult{
		Text:             text,
		WordCount:        len(words),
		PageCount:        pages,
		DetectedLanguage: detectLanguage(words),
	}
}

func normalize(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	s := string(raw)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

func isHTML(key string, raw []byte) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return strings.HasPrefix(http.DetectContentType(raw), "text/html")
}

var englishStopwords = map[string]struct{}{
	"the": {}, "and": {}, "to": {}, "of": {}, "a": {}, "in": {}, "is": {}, "for": {},
	"that": {}, "with": {}, "on": {}, "be": {}, "as": {}, "should": {}, "must": {},
	"can": {}, "will": {}, "user": {}, "users": {},
}

// detectLanguage reports English when at least 8% of the first 500 words are
// common English function words.
func detectLanguage(words []string) string {
	if len(words) == 0 {
		return LanguageUnknown
	}
	if len(words) > 500 {
		words = words[:500]
	}
	hits := 0
	for _, w := range words {
		if _, ok := englishStopwords[strings.ToLower(strings.Trim(w, ".,;:!?()\"'"))]; ok {
			hits++
		}
	}
	if float64(hits)/float64(len(words)) >= 0.08 {
		return LanguageEnglish
	}
	return LanguageUnknown
}
