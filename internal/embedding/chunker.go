package embedding

import (
	"context"
	"strings"

	"github.com/clipperhouse/uax29/v2/words"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// rawChunk is one chunk of a file before embedding, carrying its own index
// within the file so the caller can build the IndexEntry key
// hash(path + chunk_index + content_hash).
type rawChunk struct {
	index int
	text  string
}

// topLevelDecl lists the Go AST node types chunkGoFile treats as declaration
// boundaries, mirroring how parser_go.go walks top-level declarations to
// extract functions/types rather than splitting mid-signature.
var topLevelDecl = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
	"type_declaration":     true,
	"const_declaration":    true,
	"var_declaration":      true,
}

// ChunkFile splits content into chunks of about maxChars bytes (§4.2).
// ".go" files are chunked at top-level declaration boundaries via
// tree-sitter when the parse succeeds; a single declaration longer than
// maxChars stays one chunk, and Go chunks carry no overlap. Everything
// else, and any ".go" file tree-sitter cannot parse cleanly, falls back to
// the uax29 word chunker, which carries up to overlap bytes of context
// between consecutive chunks.
func ChunkFile(path string, content []byte, maxChars, overlap int) []rawChunk {
	if strings.HasSuffix(path, ".go") {
		if chunks, ok := chunkGoFile(content, maxChars); ok {
			return chunks
		}
	}
	return chunkWords(string(content), maxChars, overlap)
}

// chunkGoFile attempts declaration-boundary chunking via tree-sitter. It
// returns ok=false when the parse reports an error or produces no usable
// root children, in which case the caller falls back to the word chunker.
func chunkGoFile(content []byte, maxChars int) ([]rawChunk, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return nil, false
	}
	root := tree.RootNode()
	if root == nil || root.HasError() || root.ChildCount() == 0 {
		return nil, false
	}

	var chunks []rawChunk
	var buf strings.Builder
	idx := 0

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			chunks = append(chunks, rawChunk{index: idx, text: text})
			idx++
		}
		buf.Reset()
	}

	found := false
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		if node == nil {
			continue
		}
		segment := string(content[node.StartByte():node.EndByte()])
		if topLevelDecl[node.Type()] {
			found = true
		}
		if buf.Len() > 0 && buf.Len()+len(segment) > maxChars {
			flush()
		}
		buf.WriteString(segment)
		buf.WriteString("\n")
	}
	flush()

	if !found || len(chunks) == 0 {
		return nil, false
	}
	return chunks, true
}

// chunkWords splits text into word-aligned spans of at most maxChars bytes
// using uax29's Unicode word-boundary segmenter, so a chunk boundary never
// falls mid-word or mid-grapheme (a single word longer than maxChars stays
// whole), with up to overlap bytes of trailing whole words repeated at the
// start of the next chunk.
func chunkWords(text string, maxChars, overlap int) []rawChunk {
	if maxChars <= 0 {
		maxChars = 1500
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}

	var tokens []string
	seg := words.FromString(text)
	for seg.Next() {
		tokens = append(tokens, seg.Value())
	}
	if len(tokens) == 0 {
		return nil
	}

	var chunks []rawChunk
	var cur strings.Builder
	idx := 0

	pushChunk := func() {
		t := strings.TrimSpace(cur.String())
		if t != "" {
			chunks = append(chunks, rawChunk{index: idx, text: t})
			idx++
		}
	}

	tail := ""
	for _, tok := range tokens {
		if cur.Len() == 0 && tail != "" {
			cur.WriteString(tail)
		}
		if cur.Len()+len(tok) > maxChars && cur.Len() > 0 {
			full := cur.String()
			pushChunk()
			tail = ""
			if overlap > 0 {
				var fullTokens []string
				fs := words.FromString(full)
				for fs.Next() {
					fullTokens = append(fullTokens, fs.Value())
				}
				n := 0
				for i := len(fullTokens) - 1; i >= 0 && n+len(fullTokens[i]) <= overlap; i-- {
					n += len(fullTokens[i])
				}
				tail = full[len(full)-n:]
			}
			cur.Reset()
			if tail != "" {
				cur.WriteString(tail)
			}
		}
		cur.WriteString(tok)
	}
	pushChunk()

	return chunks
}
