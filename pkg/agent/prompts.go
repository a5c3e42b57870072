package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openskills/openskills/pkg/skills"
)

// DefaultBasePrompt anchors the system prompt when the host supplies none.
const DefaultBasePrompt = "You are a helpful assistant. When a skill is active, follow its instructions precisely."

// summaryPreviewLimit bounds how much reference content is shown to the
// model when asking for a summary.
const summaryPreviewLimit = 2000

// fallbackSummaryLimit bounds the raw-prefix summary used when the model
// cannot produce one.
const fallbackSummaryLimit = 100

// invocationPattern matches [INVOKE:script] and [INVOKE:script(args)]
// markers emitted by the model.
var invocationPattern = regexp.MustCompile(`\[INVOKE:(\w+)(?:\((.*?)\))?\]`)

// invocation is one script call request extracted from a model response.
type invocation struct {
	Script string
	Args   string
}

// extractInvocations pulls every invocation marker out of a response, in
// order of appearance.
func extractInvocations(response string) []invocation {
	matches := invocationPattern.FindAllStringSubmatch(response, -1)
	out := make([]invocation, 0, len(matches))
	for _, m := range matches {
		out = append(out, invocation{Script: m[1], Args: m[2]})
	}
	return out
}

// stripInvocations removes all invocation markers from a response.
func stripInvocations(response string) string {
	return strings.TrimSpace(invocationPattern.ReplaceAllString(response, ""))
}

// classifyPrompt asks the model to pick a skill for the user input, or the
// NONE sentinel when nothing applies.
func classifyPrompt(input string, catalog []skills.Metadata) string {
	var b strings.Builder
	b.WriteString("Select the single most relevant skill for the user request below.\n")
	b.WriteString("Available skills:\n")
	for _, meta := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", meta.Name, meta.Description)
	}
	b.WriteString("\nUser request: ")
	b.WriteString(input)
	b.WriteString("\n\nRespond with exactly one skill name from the list, or NONE if no skill applies.")
	return b.String()
}

// parseClassification resolves a classification response to a known skill
// name. Quotes around the answer are tolerated; anything that is not
// exactly a catalog name counts as no selection.
func parseClassification(response string, catalog []skills.Metadata) string {
	answer := strings.TrimSpace(response)
	answer = strings.TrimSpace(strings.Trim(answer, "\"'`"))
	if strings.EqualFold(answer, "NONE") {
		return ""
	}
	for _, meta := range catalog {
		if strings.EqualFold(answer, meta.Name) {
			return meta.Name
		}
	}
	return ""
}

// conditionsPrompt asks the model to grade every candidate reference
// against the user input in one batch, YES or NO per line. References
// without a condition are graded as general references.
func conditionsPrompt(input string, refs []*skills.Reference) string {
	var b strings.Builder
	b.WriteString("For each numbered document, answer whether it is needed for the user request.\n")
	b.WriteString("User request: ")
	b.WriteString(input)
	b.WriteString("\n\nDocuments:\n")
	for i, ref := range refs {
		condition := ref.Condition
		if condition == "" {
			condition = "(none, general reference)"
		}
		fmt.Fprintf(&b, "%d. Path: %s Condition: %s\n", i+1, ref.Path, condition)
	}
	b.WriteString("\nAnswer one line per document, in order, formatted exactly as \"1. YES\" or \"1. NO\".")
	return b.String()
}

// parseConditions reads a graded response back into per-reference booleans.
// Anything that is not an explicit YES counts as NO.
func parseConditions(response string, count int) []bool {
	out := make([]bool, count)
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		dot := strings.Index(line, ".")
		if dot <= 0 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line[:dot]))
		if err != nil || idx < 1 || idx > count {
			continue
		}
		verdict := strings.ToUpper(strings.TrimSpace(line[dot+1:]))
		out[idx-1] = strings.HasPrefix(verdict, "YES")
	}
	return out
}

// summaryPrompt asks for a compact summary of reference content.
func summaryPrompt(path, content string) string {
	preview := content
	if len(preview) > summaryPreviewLimit {
		preview = preview[:summaryPreviewLimit]
	}
	return fmt.Sprintf(
		"Summarize the following document (%s) in 2-3 sentences so an assistant can decide later whether it needs the full text:\n\n%s",
		path, preview)
}

// fallbackSummary is used when the model cannot summarize a reference.
func fallbackSummary(content string) string {
	if len(content) <= fallbackSummaryLimit {
		return content
	}
	return content[:fallbackSummaryLimit] + "..."
}

// recallPrompt asks which summarized references are needed in full for the
// current request.
func recallPrompt(input string, paths []string, summaries []string) string {
	var b strings.Builder
	b.WriteString("These previously loaded documents are currently summarized:\n")
	for i, path := range paths {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, path, summaries[i])
	}
	b.WriteString("\nUser request: ")
	b.WriteString(input)
	b.WriteString("\n\nWhich documents are needed in full to answer? Respond with the numbers separated by commas, or \"none\".")
	return b.String()
}

// parseRecall extracts the recalled indices (0-based) from a recall
// response. The "none" sentinel, in English or Chinese, yields nothing.
func parseRecall(response string, count int) []int {
	answer := strings.TrimSpace(response)
	if answer == "" || strings.EqualFold(answer, "none") || answer == "无" {
		return nil
	}

	var out []int
	seen := make(map[int]bool)
	for _, field := range strings.FieldsFunc(answer, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		idx, err := strconv.Atoi(field)
		if err != nil || idx < 1 || idx > count || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx-1)
	}
	return out
}
