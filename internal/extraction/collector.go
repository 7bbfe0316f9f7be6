package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ordex/internal/common"
	"ordex/internal/dispatch"
	"ordex/internal/doc"
	"ordex/internal/provider"
	"ordex/internal/textutil"
)

// relevancePrompt asks whether a text chunk carries substantive
// ordinance content. The model must answer in JSON with the
// contains_ord_info key so the check is mechanical.
const relevancePrompt = "You extract structured data from legal text. " +
	"Return your answer in JSON format (not markdown). Your JSON must " +
	"include exactly two keys. The first key is 'summary', a string " +
	"that summarizes any ordinance requirements in the text excerpt. " +
	"The second key is 'contains_ord_info', a boolean that is true if " +
	"the excerpt provides substantive information related to the " +
	"jurisdiction's ordinance rules, requirements, or quantitative limits."

// Collector filters a document's text down to the chunks that carry
// ordinance content. Each chunk check is one dispatched LLM call;
// relevant chunks are stored along with their neighbors so clipped
// sentences at chunk boundaries are recovered.
type Collector struct {
	chunkSize    int
	chunkOverlap int
	numRecall    int
	logger       *zap.Logger
}

// NewCollector creates a collector with the model's chunking
// parameters. numRecall controls how many preceding neighbor chunks
// are kept around each relevant chunk.
func NewCollector(chunkSize, chunkOverlap, numRecall int, logger *zap.Logger) *Collector {
	if chunkSize <= 0 {
		chunkSize = 8000
	}
	if numRecall < 1 {
		numRecall = 1
	}
	return &Collector{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		numRecall:    numRecall,
		logger:       logger,
	}
}

// CollectRelevantText checks every chunk of the document's raw text
// concurrently and writes the merged relevant text back to the
// document under doc.KeyRelevantText. A failed chunk check drops
// that chunk, never the document; only when every check fails is the
// collection itself reported as an error, so a dead provider is
// distinguishable from a genuinely irrelevant document.
func (c *Collector) CollectRelevantText(ctx context.Context, document *doc.Document) (string, error) {
	chunks := textutil.Chunk(document.RawText(), c.chunkSize, c.chunkOverlap)
	if len(chunks) == 0 {
		document.Set(doc.KeyRelevantText, "")
		return "", nil
	}

	kept := make(map[int]string)
	failed := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for ind := range chunks {
		wg.Add(1)
		go func(ind int) {
			defer wg.Done()

			relevant, err := c.checkChunk(ctx, chunks[ind])
			if err != nil {
				c.logger.Warn("Chunk relevance check failed, dropping chunk",
					zap.String("document_id", string(document.ID)),
					zap.Int("chunk", ind),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			if !relevant {
				return
			}

			mu.Lock()
			storeChunk(chunks, ind, c.numRecall, kept)
			mu.Unlock()
		}(ind)
	}
	wg.Wait()

	if failed == len(chunks) {
		return "", fmt.Errorf("every chunk relevance check failed for document %s", document.ID)
	}

	text := mergeKept(chunks, kept)
	document.Set(doc.KeyRelevantText, text)

	c.logger.Debug("Relevant text collected",
		zap.String("document_id", string(document.ID)),
		zap.Int("total_chunks", len(chunks)),
		zap.Int("kept_chunks", len(kept)))

	return text, nil
}

// checkChunk runs the relevance question for one chunk
func (c *Collector) checkChunk(ctx context.Context, chunk string) (bool, error) {
	result, err := dispatch.Call(ctx, common.TaskDocumentContentValidation, provider.Request{
		SystemPrompt: relevancePrompt,
		UserPrompt:   chunk,
		JSONOutput:   true,
	})
	if err != nil {
		return false, err
	}
	if result.Err != nil {
		return false, result.Err
	}

	var payload struct {
		ContainsOrdInfo bool `json:"contains_ord_info"`
	}
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &payload); err != nil {
		return false, err
	}
	return payload.ContainsOrdInfo, nil
}

// storeChunk keeps a relevant chunk and its preceding neighbors
func storeChunk(chunks []string, ind, numRecall int, store map[int]string) {
	for offset := 1 - numRecall; offset <= 1; offset++ {
		grab := ind + offset
		if grab < 0 || grab >= len(chunks) {
			continue
		}
		if _, ok := store[grab]; !ok {
			store[grab] = chunks[grab]
		}
	}
}

// mergeKept joins kept chunks in document order with overlaps
// collapsed
func mergeKept(chunks []string, kept map[int]string) string {
	if len(kept) == 0 {
		return ""
	}
	inds := make([]int, 0, len(kept))
	for ind := range kept {
		inds = append(inds, ind)
	}
	sort.Ints(inds)

	ordered := make([]string, 0, len(inds))
	for _, ind := range inds {
		ordered = append(ordered, kept[ind])
	}
	return textutil.MergeOverlapping(ordered)
}

// extractJSON extracts a JSON object from response text that might
// contain surrounding prose or markdown fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}
	braceCount := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
