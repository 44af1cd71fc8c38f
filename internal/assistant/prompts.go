package assistant

import (
	"regexp"
	"strings"
)

const systemPrompt = `You are a knowledgeable HealthSphere platform expert and health advisor. HealthSphere is an intelligent healthcare
and fitness ecosystem designed to support preventive wellness and help users understand their current and future health.
When asked about the platform, always explain the platform's purpose, features, and use cases in a short, helpful format.
Always avoid making claims beyond the platform's scope and ask for clarification if necessary.
The assistant should provide accurate details about the platform's modules and workflows when requested by users:
- Core purpose: HealthSphere unifies fitness, medical report summaries, nutrition, workout plans, and preventive alerts.
- Main features: Personalized dashboards, report interpretation, diet planning using clinical values, food recognition, adaptive workouts for chronic conditions, risk forecasting, preventive alerts, mental wellness support, AI assistant, community features, cultural adaptations.
- Unique innovations: Combines clinical reports with lifestyle data, uses RAG to reduce hallucinations, provides individualized long-term risk forecasts and personalized guidance.
- Target users: health-conscious users, people managing diabetes, hypertension, obesity, and those seeking preventive care.
- Limitations: Not a replacement for medical diagnosis; never infer diagnoses without data; escalate to professional review when tests indicate risk.

Your role is to:
1. Provide evidence-based, actionable health advice
2. Personalize recommendations based on the user's profile and medical history
3. Reference relevant knowledge when available
4. Consider website features/resources when discussing treatments or wellness
5. Always prioritize user safety and suggest consulting healthcare providers when needed
6. Be clear about what you do and don't know

Guidelines:
- Use the user's profile, medical report, and retrieved knowledge to inform your answer
- If website resources are provided, mention them when relevant
- Be specific and practical with recommendations
- Acknowledge limitations and uncertainties
- Cite sources when possible
- Use ONLY the patient profile, report facts, and retrieved knowledge documents included in the prompt. Do not assume or invent missing data. If important information is missing, include an explicit 'follow_up_questions' list in your response and ask the patient. If you find any metrics outside the report's provided reference ranges, set 'needs_professional_review' to true and explain why with evidence IDs or field names.`

const dietPlanClause = "\n- When appropriate, suggest a personalized diet plan based on the user's health data"

const dangerAlert = "Alert: Certain lab values are outside the provided reference ranges; recommend immediate professional review and include 'needs_professional_review': true.\n\n"

const responseFormat = `Please provide a response in the following JSON format:
{
    "summary": "Your main response/advice",
    "diet_plan": ["Step 1", "Step 2", ...] (if applicable),
    "sources": [{"title": "Source title", "url": "url", "relevance": 0.9}],
    "confidence": 0.85 (0-1 scale),
    "needs_professional_review": true/false
}`

// SystemPrompt returns the chat system prompt, optionally asking for a diet plan.
func SystemPrompt(includeDietPlan bool) string {
	if includeDietPlan {
		return systemPrompt + dietPlanClause
	}
	return systemPrompt
}

// UserPrompt embeds every non-empty context block, the follow-up questions
// and the danger alert, followed by the JSON response format.
func UserPrompt(c Context, includeFormat bool) string {
	var b strings.Builder
	b.WriteString("User Query: " + c.Query + "\n\n")

	for _, block := range []string{c.UserProfile, c.UserReport, c.WebsiteContext, c.KnowledgeBase} {
		if block != "" {
			b.WriteString(block + "\n\n")
		}
	}
	if c.ConversationContext != "" {
		b.WriteString("Previous Context: " + c.ConversationContext + "\n\n")
	}

	if len(c.Metadata.MissingProfileFields) > 0 && len(c.Metadata.FollowUpQuestions) > 0 {
		b.WriteString("Follow-up Questions to Ask the User:\n")
		for _, q := range c.Metadata.FollowUpQuestions {
			b.WriteString("- " + q + "\n")
		}
		b.WriteString("\n")
	}
	if len(c.Metadata.DangerFlags) > 0 {
		b.WriteString(dangerAlert)
	}
	if includeFormat {
		b.WriteString(responseFormat)
	}
	return b.String()
}

var reportKeywords = map[string]bool{
	"report": true, "reporting": true, "reports": true, "lab": true, "labs": true, "blood": true,
	"test": true, "tests": true, "result": true, "results": true, "bloodwork": true,
	"cholesterol": true, "a1c": true, "hba1c": true, "hemoglobin": true, "imaging": true,
	"x-ray": true, "ct": true, "mri": true, "scan": true, "diagnostic": true,
}

var reportPhrases = []string{
	"lab result", "blood test", "explain my", "what does my", "interpret my",
}

var queryWord = regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+)*`)

// IsReportRelated decides whether the report block belongs in the prompt.
// Single keywords match whole words so "ct" does not fire inside "doctor".
func IsReportRelated(query string) bool {
	q := strings.ToLower(query)
	if q == "" {
		return false
	}
	for _, w := range queryWord.FindAllString(q, -1) {
		if reportKeywords[w] {
			return true
		}
	}
	for _, p := range reportPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}
