package prompt

import "fmt"

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior construction-materials compliance reviewer. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- compliant is true only when the document satisfies every applicable requirement.
- non_compliances is an array; it must be empty when compliant is true.
- Use lowercase severity values: critical, major, minor.
- summary is a short plain-language assessment of the document.
- If the actual file content is not provided in the prompt, assess conservatively from the file type and URL.

Schema (example with empty values):
{
  "compliant": false,
  "summary": "<string>",
  "non_compliances": [
    {
      "issue": "<string>",
      "severity": "<critical|major|minor>",
      "requirement": "<string>",
      "recommendation": "<string>"
    }
  ]
}`
}

// GetUserPrompt builds a compact user message around a document URL.
func GetUserPrompt(fileURL string) string {
	return fmt.Sprintf("Analyze the quality/compliance document at this URL and respond with the JSON per schema. URL: %s", fileURL)
}

// Report mirrors the schema used by the system prompt.
type Report struct {
	Compliant      bool   `json:"compliant"`
	Summary        string `json:"summary"`
	NonCompliances []struct {
		Issue          string `json:"issue"`
		Severity       string `json:"severity"`
		Requirement    string `json:"requirement"`
		Recommendation string `json:"recommendation"`
	} `json:"non_compliances"`
}
