// Package eligibility scores a patient against a clinical trial by asking a
// language model and extracting a score from its free-text answer.
package eligibility

import (
	"fmt"
	"strings"
)

// Trial is the trial half of an assessment input.
type Trial struct {
	Name              string
	ProtocolID        string
	Sponsor           string
	ResearchAim       string
	Inclusion         []string
	Exclusion         []string
	AgeRange          string
	Gender            string
	OtherDemographics string
}

// Patient is the patient half of an assessment input.
type Patient struct {
	SessionID     string
	Name          string
	Demographics  string
	Transcript    string
	ExtractedInfo string
}

// Input combines a trial and a patient for one assessment. It is built per
// request and never stored.
type Input struct {
	Trial   Trial
	Patient Patient
}

// SystemPrompt is the fixed instruction sent with every assessment.
const SystemPrompt = `You are a Clinical Eligibility Assessor responsible for screening potential patients for clinical trial enrollment.

Your task is to analyze patient data extracted from clinical audio transcripts and determine eligibility based on the specific trial criteria provided.

You must be objective and base your assessment strictly on:
1. Whether the patient meets ALL Inclusion criteria
2. Whether the patient avoids ALL Exclusion criteria

When the evidence is balanced, lean slightly toward the higher score so that borderline patients are surfaced for coordinator review.

Your response must be structured, thorough, and cite specific evidence from the patient data.`

const outputInstructions = `# Required Output Structure

Please provide your assessment in the following format:

## 1. Eligibility Match Percentage
**IMPORTANT: Start your response with "ELIGIBILITY_SCORE: XX%" where XX is a number from 0-100 representing the overall match percentage.**

State: **ELIGIBLE** or **INELIGIBLE**

## 2. Comprehensive Eligibility Rationale

### Criterion-by-Criterion Analysis:
For each inclusion and exclusion criterion, state:
- Criterion ID and description
- Patient's status (MEETS or FAILS)
- Evidence from transcript supporting your determination
- Specific quote or reference from patient data

### 3. Final Summary
- Overall eligibility status
- Key factors supporting the decision
- Any missing information that prevented full assessment
- Percentage match breakdown explanation

### 4. Confidence Score
Rate your confidence in this assessment (0-100%) and explain any uncertainties.

If the patient is INELIGIBLE, provide a detailed narrative explanation of which specific criteria they failed and why, with direct references to the patient data.
`

// BuildPrompt renders the user message for in.
func BuildPrompt(in Input) string {
	var b strings.Builder
	t, p := in.Trial, in.Patient

	b.WriteString("# Clinical Trial Information\n")
	fmt.Fprintf(&b, "**Trial Name:** %s\n", t.Name)
	fmt.Fprintf(&b, "**Protocol ID:** %s\n", t.ProtocolID)
	fmt.Fprintf(&b, "**Issuing Company:** %s\n", t.Sponsor)
	fmt.Fprintf(&b, "**Research Aim:** %s\n\n", t.ResearchAim)

	b.WriteString("# Trial Eligibility Criteria\n\n")
	b.WriteString("## Inclusion Criteria:\n")
	writeNumbered(&b, t.Inclusion)
	b.WriteString("\n## Exclusion Criteria:\n")
	writeNumbered(&b, t.Exclusion)

	b.WriteString("\n## Required Patient Demographics:\n")
	fmt.Fprintf(&b, "- Age Range: %s\n", t.AgeRange)
	fmt.Fprintf(&b, "- Gender: %s\n", t.Gender)
	fmt.Fprintf(&b, "- Other Requirements: %s\n\n", t.OtherDemographics)

	b.WriteString("---\n\n# Patient Data from Audio Transcript\n\n")
	fmt.Fprintf(&b, "**Session ID:** %s\n", p.SessionID)
	fmt.Fprintf(&b, "**Patient Name:** %s\n", p.Name)
	fmt.Fprintf(&b, "**Patient Demographics:** %s\n\n", p.Demographics)

	b.WriteString("## Complete Audio Transcript:\n")
	b.WriteString(orNone(p.Transcript, "No transcript available."))
	b.WriteString("\n\n## Extracted Patient Information:\n")
	b.WriteString(orNone(p.ExtractedInfo, "None."))
	b.WriteString("\n\n---\n\n")

	b.WriteString(outputInstructions)
	return b.String()
}

func writeNumbered(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("None specified.\n")
		return
	}
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}

func orNone(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
