// Package segment turns raw HTML-ish benefit records into classified,
// length-bounded text chunks ready for embedding or rule-based use.
package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
)

// Config holds segmentation bounds and an optional classifier override.
type Config struct {
	MaxChunkChars   int
	MergeBelowChars int
	MinKeepChars    int
	Classifier      LineClassifier
}

// Segmenter decomposes one BenefitRecord into vector-bound chunks
// (summary/core/notes) and non-vector rule chunks (condition/exclusion).
type Segmenter struct {
	logger     *observability.Logger
	splitter   Splitter
	classifier LineClassifier
}

// NewSegmenter creates a segmenter, applying defaults for zero values.
func NewSegmenter(logger *observability.Logger, cfg Config) *Segmenter {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = RuleClassifier{}
	}
	return &Segmenter{
		logger:     logger.WithComponent("segmenter"),
		splitter:   NewSplitter(cfg.MaxChunkChars, cfg.MergeBelowChars, cfg.MinKeepChars),
		classifier: classifier,
	}
}

// draft is a chunk before its doc ID is assigned.
type draft struct {
	docType catalog.DocType
	text    string
	meta    catalog.ChunkMetadata
}

// BuildDocuments returns the record's vector-bound chunks and its non-vector
// rule chunks. A record with no extractable text anywhere yields two empty
// slices; the caller decides whether that is worth logging.
func (s *Segmenter) BuildDocuments(rec catalog.BenefitRecord) ([]catalog.Chunk, []catalog.Chunk) {
	var benefitDrafts, ruleDrafts, notesDrafts []draft
	var benefitTags []catalog.BenefitType
	categoryCounts := make(map[string]int)
	hasNotes := false

	for _, entry := range rec.Benefits {
		if entry.CategoryLabel == "" || entry.RawHTML == "" {
			continue
		}
		if IsNotesLabel(entry.CategoryLabel) {
			hasNotes = true
			notesDrafts = append(notesDrafts, s.buildNotes(rec, entry)...)
			continue
		}

		vec, rules, tag, categoryStd := s.buildBenefit(rec, entry)
		benefitDrafts = append(benefitDrafts, vec...)
		ruleDrafts = append(ruleDrafts, rules...)

		if len(vec) > 0 || len(rules) > 0 {
			benefitTags = appendTag(benefitTags, tag)
			if categoryStd != "" {
				categoryCounts[categoryStd]++
			}
		}
	}

	extracted := len(benefitDrafts) + len(ruleDrafts) + len(notesDrafts)
	if extracted == 0 && rec.Name == "" && rec.Issuer == "" {
		return nil, nil
	}

	vector := make([]draft, 0, 1+len(benefitDrafts)+len(notesDrafts))
	vector = append(vector, s.buildSummary(rec, benefitTags, categoryCounts, hasNotes))
	vector = append(vector, benefitDrafts...)
	vector = append(vector, notesDrafts...)

	chunks := make([]catalog.Chunk, 0, len(vector))
	for i, d := range vector {
		chunks = append(chunks, catalog.Chunk{
			DocID:    catalog.VectorDocID(rec.ProductID, d.docType, i),
			DocType:  d.docType,
			Text:     d.text,
			Metadata: d.meta,
		})
	}

	rules := make([]catalog.Chunk, 0, len(ruleDrafts))
	for j, d := range ruleDrafts {
		rules = append(rules, catalog.Chunk{
			DocID:    catalog.RuleDocID(rec.ProductID, d.docType, j),
			DocType:  d.docType,
			Text:     d.text,
			Metadata: d.meta,
		})
	}

	s.logger.Debug().
		Int("product_id", rec.ProductID).
		Int("vector_chunks", len(chunks)).
		Int("rule_chunks", len(rules)).
		Msg("record segmented")

	return chunks, rules
}

// buildBenefit cleans one benefit entry, classifies its lines into sections
// and re-chunks each non-empty section.
func (s *Segmenter) buildBenefit(rec catalog.BenefitRecord, entry catalog.BenefitEntry) (vec, rules []draft, tag catalog.BenefitType, categoryStd string) {
	text := CleanHTML(entry.RawHTML)
	if text == "" {
		return nil, nil, catalog.BenefitTypeUnknown, ""
	}

	var coreLines, condLines, exclLines []string
	for _, ln := range SplitLines(text) {
		switch s.classifier.ClassifyLine(ln) {
		case LineExclusion:
			exclLines = append(exclLines, ln)
		case LineCondition:
			condLines = append(condLines, ln)
		case LineCore:
			coreLines = append(coreLines, ln)
		}
	}

	coreText := strings.Join(coreLines, "\n")
	categoryStd = StandardCategory(entry.CategoryLabel)
	if coreText != "" {
		tag = BenefitTypeOf(coreText)
	} else {
		tag = BenefitTypeOf(text)
	}
	meta := s.metadata(rec, categoryStd, tag)

	for _, part := range s.splitter.Split(coreText) {
		vec = append(vec, draft{docType: catalog.DocTypeCore, text: part, meta: meta})
	}
	for _, part := range s.splitter.Split(strings.Join(condLines, "\n")) {
		rules = append(rules, draft{docType: catalog.DocTypeCondition, text: part, meta: meta})
	}
	for _, part := range s.splitter.Split(strings.Join(exclLines, "\n")) {
		rules = append(rules, draft{docType: catalog.DocTypeExclusion, text: part, meta: meta})
	}

	return vec, rules, tag, categoryStd
}

// buildNotes turns the caveats entry into notes chunks via the same splitter.
func (s *Segmenter) buildNotes(rec catalog.BenefitRecord, entry catalog.BenefitEntry) []draft {
	text := CleanHTML(entry.RawHTML)
	if text == "" {
		return nil
	}
	meta := s.metadata(rec, "", catalog.BenefitTypeUnknown)
	var out []draft
	for _, part := range s.splitter.Split(text) {
		out = append(out, draft{docType: catalog.DocTypeNotes, text: part, meta: meta})
	}
	return out
}

// buildSummary assembles the single free-text digest chunk for the record.
func (s *Segmenter) buildSummary(rec catalog.BenefitRecord, tags []catalog.BenefitType, categoryCounts map[string]int, hasNotes bool) draft {
	var parts []string

	switch {
	case rec.Issuer != "" && rec.Name != "":
		parts = append(parts, fmt.Sprintf("%s '%s'", rec.Issuer, rec.Name))
	case rec.Name != "":
		parts = append(parts, fmt.Sprintf("'%s'", rec.Name))
	case rec.Issuer != "":
		parts = append(parts, rec.Issuer)
	}

	typeLabel := ""
	if rec.Type.Valid() {
		typeLabel = string(rec.Type) + " card"
	}
	if len(rec.Brands) > 0 && typeLabel != "" {
		parts = append(parts, fmt.Sprintf("(%s, %s)", strings.Join(rec.Brands, ", "), typeLabel))
	} else if typeLabel != "" {
		parts = append(parts, fmt.Sprintf("(%s)", typeLabel))
	}

	if rec.MinSpendRequirement > 0 {
		parts = append(parts, fmt.Sprintf("requires %s won previous-month spend", formatThousands(rec.MinSpendRequirement)))
	}
	if rec.FeeTotal != nil {
		parts = append(parts, fmt.Sprintf("annual fee %s won", formatThousands(*rec.FeeTotal)))
	}

	if len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for _, t := range tags {
			if t != catalog.BenefitTypeUnknown {
				names = append(names, string(t))
			}
		}
		if len(names) > 3 {
			names = names[:3]
		}
		if len(names) > 0 {
			parts = append(parts, "key benefits: "+strings.Join(names, ", "))
		}
	}

	if top := topCategories(categoryCounts, 3); len(top) > 0 {
		parts = append(parts, "benefit categories: "+strings.Join(top, ", "))
	}

	if hasNotes {
		parts = append(parts, "caveats: combined discount caps and exclusions apply")
	}

	return draft{
		docType: catalog.DocTypeSummary,
		text:    strings.Join(parts, ". ") + ".",
		meta:    s.metadata(rec, "", catalog.BenefitTypeUnknown),
	}
}

func (s *Segmenter) metadata(rec catalog.BenefitRecord, categoryStd string, tag catalog.BenefitType) catalog.ChunkMetadata {
	return catalog.ChunkMetadata{
		ProductID:           rec.ProductID,
		CategoryStd:         categoryStd,
		BenefitType:         tag,
		FeeTotal:            rec.FeeTotal,
		MinSpendRequirement: rec.MinSpendRequirement,
		Type:                rec.Type,
		Issuer:              rec.Issuer,
		Brands:              rec.Brands,
	}
}

func appendTag(tags []catalog.BenefitType, tag catalog.BenefitType) []catalog.BenefitType {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// topCategories returns up to n category slugs by descending entry count,
// ties broken alphabetically for stable summaries.
func topCategories(counts map[string]int, n int) []string {
	type kv struct {
		slug  string
		count int
	}
	sorted := make([]kv, 0, len(counts))
	for slug, count := range counts {
		sorted = append(sorted, kv{slug, count})
	}
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j], sorted[j-1]
			if a.count > b.count || (a.count == b.count && a.slug < b.slug) {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			} else {
				break
			}
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, e.slug)
	}
	return out
}

func formatThousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return s
	}
	var b strings.Builder
	rem := len(s) % 3
	if rem > 0 {
		b.WriteString(s[:rem])
	}
	for i := rem; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
