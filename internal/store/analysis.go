package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CodeTokenizerName splits identifiers on camelCase and snake_case.
	CodeTokenizerName = "code_tokenizer"

	// CodeStopFilterName drops common programming keywords.
	CodeStopFilterName = "code_stop"

	// CodeAnalyzerName is the analyzer to configure for source-code indexes.
	CodeAnalyzerName = "code"
)

// DefaultCodeStopWords are dropped by the code analyzer.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"err", "ctx", "tmp",
}

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(CodeStopFilterName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return newStopFilter(DefaultCodeStopWords), nil
	})
}

// newIndexMapping builds the mapping for a new index using analyzer as the
// default. The analyzer must be known to bleve or be CodeAnalyzerName.
func newIndexMapping(analyzer string) (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()

	if analyzer == CodeAnalyzerName {
		err := m.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
			"type":          custom.Name,
			"tokenizer":     CodeTokenizerName,
			"token_filters": []string{lowercase.Name, CodeStopFilterName},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add code analyzer: %w", err)
		}
	}
	if analyzer != "" {
		m.DefaultAnalyzer = analyzer
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer %q: %w", analyzer, err)
	}
	return m, nil
}

// validateIndexDir checks that path holds a complete bleve index: its
// index_meta.json must exist, be non-empty, and parse.
func validateIndexDir(path string) error {
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (incomplete index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

var wordRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// codeTokenizer emits the parts of each identifier with byte offsets into
// the input. Case folding is left to the lowercase filter.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	var stream analysis.TokenStream
	pos := 1
	for _, loc := range wordRegex.FindAllIndex(input, -1) {
		for _, part := range splitIdentifier(input, loc[0], loc[1]) {
			if part[1]-part[0] < 2 {
				continue
			}
			stream = append(stream, &analysis.Token{
				Term:     append([]byte(nil), input[part[0]:part[1]]...),
				Start:    part[0],
				End:      part[1],
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
	}
	return stream
}

// splitIdentifier splits input[start:end] on underscores and case changes.
// "parseHTTPRequest" yields parse, HTTP, Request.
func splitIdentifier(input []byte, start, end int) [][2]int {
	var parts [][2]int
	partStart := start
	flush := func(at int) {
		if at > partStart {
			parts = append(parts, [2]int{partStart, at})
		}
	}

	// Identifiers are ASCII by construction of wordRegex.
	for i := start; i < end; i++ {
		c := rune(input[i])
		if c == '_' {
			flush(i)
			partStart = i + 1
			continue
		}
		if i > partStart && unicode.IsUpper(c) {
			prevLower := unicode.IsLower(rune(input[i-1]))
			nextLower := i+1 < end && unicode.IsLower(rune(input[i+1]))
			if prevLower || nextLower {
				flush(i)
				partStart = i
			}
		}
	}
	flush(end)
	return parts
}

type stopFilter map[string]struct{}

func newStopFilter(words []string) stopFilter {
	f := make(stopFilter, len(words))
	for _, w := range words {
		f[strings.ToLower(w)] = struct{}{}
	}
	return f
}

func (f stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, stop := f[strings.ToLower(string(tok.Term))]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
