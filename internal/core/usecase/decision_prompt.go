package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const analysisSystemPrompt = `You are a knowledge management analyst for a bank's internal document library.
You decide whether a document should be kept in a retrieval knowledge base.
Always answer with one JSON object and nothing else.`

// defaultAnalysisTemplate is used when a category has no routing.
// Placeholders: {filename} {category} {file_type} {content_length} {content}.
const defaultAnalysisTemplate = `Evaluate the document below.

Filename: {filename}
Business category: {category}
File type: {file_type}
Content length: {content_length} characters

Keep documents with lasting reference value: policies, procedures, product rules,
standards, regulatory notices. Reject short-lived notices, meeting arrangements,
personnel trivia, empty or unreadable content.

Return a JSON object with:
- suitable_for_kb: boolean
- confidence_score: integer from 0 to 100
- reasons: array of short strings
- summary: one paragraph summary of the document

Document content:
{content}`

const versionSystemPrompt = `You are a document version analyst. You identify the newest revision among
documents sharing a title. Always answer with one JSON object and nothing else.`

const expirationSystemPrompt = `You are a document validity analyst. You decide whether a document's
period of validity has ended. Always answer with one JSON object and nothing else.`

func renderAnalysisPrompt(template string, doc *domain.Document, content string) string {
	if strings.TrimSpace(template) == "" {
		template = defaultAnalysisTemplate
	}
	r := strings.NewReplacer(
		"{filename}", doc.Filename,
		"{category}", string(doc.Category),
		"{file_type}", doc.ResolvedFileType(),
		"{content_length}", strconv.Itoa(len([]rune(content))),
		"{content}", content,
	)
	return r.Replace(template)
}

func schemaInstruction(schemaJSON []byte) string {
	return "\n\nThe JSON object must validate against this JSON schema:\n" + string(schemaJSON)
}

func correctionPrompt(validationErr error) string {
	return fmt.Sprintf(`Your previous answer was rejected: %v
Return only the corrected JSON object with every required field.`, validationErr)
}

func buildVersionMessages(previews []domain.Preview) []ports.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "There are %d documents with similar titles. Decide which one is the latest version.\n", len(previews))
	for i, p := range previews {
		fmt.Fprintf(&b, "\nDocument %d:\n- document_id: %s\n- filename: %s\n- content preview:\n%s\n", i+1, p.Document.ID, p.Document.Filename, p.Text)
	}
	b.WriteString(`
Look closely at:
1. the issuance number at the top of each document (for example 发【2025】12号)
2. version numbers and revision or effective dates mentioned in the text
3. revision markers in the filename (修订, 修改, 废止 and similar)

If the previews do not let you decide, return an empty latest_document_id.

Return a JSON object with:
- latest_document_id: the document_id of the latest version
- old_document_ids: array with the document_id of every older version
- reasoning: why the latest one was chosen`)

	return []ports.Message{
		{Role: "system", Content: versionSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func buildExpirationMessages(doc *domain.Document, preview string, today time.Time) []ports.Message {
	prompt := fmt.Sprintf(`Today is %s.

Decide whether the document below has expired. Pay attention to:
1. dates in the title
2. validity periods or date ranges in the content
3. effective and termination dates

If the document is valid permanently or long-term (永久, 长期, permanent, long-term),
set validity to that marker and is_expired to false.

Filename: %s
Content preview:
%s

Return a JSON object with:
- is_expired: boolean
- reasoning: short explanation
- expiration_date: the expiration date if one is stated, otherwise empty
- validity: the stated validity term if any, otherwise empty
- confidence: integer from 0 to 100`, today.Format("2006-01-02"), doc.Filename, preview)

	return []ports.Message{
		{Role: "system", Content: expirationSystemPrompt},
		{Role: "user", Content: prompt},
	}
}
