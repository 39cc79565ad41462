// Package citations maps grounding URLs to short per-run tokens, embeds them
// as markdown markers in generated text and resolves them back in the final answer.
package citations

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pro-search-agent/server/internal/agent/model"
)

// ShortURLPrefix starts every short reference token. A token is
// ShortURLPrefix + "<taskID>-<chunkIndex>".
const ShortURLPrefix = "https://vertexaisearch.cloud.google.com/id/"

var tokenPattern = regexp.MustCompile(regexp.QuoteMeta(ShortURLPrefix) + `\d+-\d+`)

// Chunk is one grounding source returned by the web search backend.
type Chunk struct {
	URI   string
	Title string
}

// Support ties a byte range of the generated text to grounding chunks.
type Support struct {
	StartIndex   int
	EndIndex     int
	ChunkIndices []int
}

// Citation is a text range with the sources that support it.
type Citation struct {
	StartIndex int
	EndIndex   int
	Segments   []model.Source
}

// Token returns the short reference for chunk idx of task id.
func Token(id, idx int) string {
	return fmt.Sprintf("%s%d-%d", ShortURLPrefix, id, idx)
}

// ResolveURLs maps each distinct chunk URI to a token. A URI seen several
// times keeps the token of its first position.
func ResolveURLs(chunks []Chunk, id int) map[string]string {
	resolved := make(map[string]string, len(chunks))
	for idx, c := range chunks {
		if c.URI == "" {
			continue
		}
		if _, ok := resolved[c.URI]; !ok {
			resolved[c.URI] = Token(id, idx)
		}
	}
	return resolved
}

// Label derives a short display label from a chunk title ("example.com" -> "example").
func Label(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.Index(title, "."); i > 0 {
		return title[:i]
	}
	return title
}

// Build turns grounding supports into citations. Supports without a valid
// range and chunk indices out of bounds are skipped.
func Build(supports []Support, chunks []Chunk, resolved map[string]string) []Citation {
	out := make([]Citation, 0, len(supports))
	for _, sup := range supports {
		if sup.EndIndex <= 0 || sup.StartIndex < 0 || sup.StartIndex > sup.EndIndex {
			continue
		}
		cit := Citation{StartIndex: sup.StartIndex, EndIndex: sup.EndIndex}
		for _, ci := range sup.ChunkIndices {
			if ci < 0 || ci >= len(chunks) {
				continue
			}
			ch := chunks[ci]
			ref, ok := resolved[ch.URI]
			if !ok {
				continue
			}
			cit.Segments = append(cit.Segments, model.Source{ShortRef: ref, Value: ch.URI, Label: Label(ch.Title)})
		}
		out = append(out, cit)
	}
	return out
}

// InsertMarkers inserts " [label](token)" after each cited range. Offsets are
// byte offsets into text; insertion runs from the end so earlier offsets stay valid.
func InsertMarkers(text string, cits []Citation) string {
	sorted := make([]Citation, len(cits))
	copy(sorted, cits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EndIndex != sorted[j].EndIndex {
			return sorted[i].EndIndex > sorted[j].EndIndex
		}
		return sorted[i].StartIndex > sorted[j].StartIndex
	})

	for _, c := range sorted {
		if len(c.Segments) == 0 {
			continue
		}
		end := min(c.EndIndex, len(text))
		var marker strings.Builder
		for _, seg := range c.Segments {
			marker.WriteString(" [")
			marker.WriteString(seg.Label)
			marker.WriteString("](")
			marker.WriteString(seg.ShortRef)
			marker.WriteString(")")
		}
		text = text[:end] + marker.String() + text[end:]
	}
	return text
}

// Sources flattens the citation segments, one entry per token.
func Sources(cits []Citation) []model.Source {
	seen := make(map[string]struct{})
	var out []model.Source
	for _, c := range cits {
		for _, seg := range c.Segments {
			if _, ok := seen[seg.ShortRef]; ok {
				continue
			}
			seen[seg.ShortRef] = struct{}{}
			out = append(out, seg)
		}
	}
	return out
}

// Substitute replaces every known token in answer with its full URL in a
// single pass and returns the sources whose token occurred, in the order of
// sources and without duplicates. Unknown tokens are left untouched and
// unused sources are dropped. Running it again on its output changes nothing.
func Substitute(answer string, sources []model.Source) (string, []model.Source) {
	byRef := make(map[string]string, len(sources))
	for _, s := range sources {
		if _, ok := byRef[s.ShortRef]; !ok {
			byRef[s.ShortRef] = s.Value
		}
	}

	used := make(map[string]struct{})
	text := tokenPattern.ReplaceAllStringFunc(answer, func(tok string) string {
		v, ok := byRef[tok]
		if !ok {
			return tok
		}
		used[tok] = struct{}{}
		return v
	})

	kept := make([]model.Source, 0, len(used))
	for _, s := range sources {
		if _, ok := used[s.ShortRef]; !ok {
			continue
		}
		delete(used, s.ShortRef)
		kept = append(kept, s)
	}
	return text, kept
}
