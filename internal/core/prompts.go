package core

// prompts.go holds the language-model prompts used by the audio pipeline.
// Keeping them together makes them easy to tweak without touching the
// pipeline code.  Each one is a fmt format string.

const (
    // SummaryPrompt asks for a bullet summary translated into the target
    // language.  Arguments: transcript, target language.
    SummaryPrompt = "This is a transcript of a voice message:\n\n%s\n\n" +
        "Please summarize the key points in bullet points. " +
        "Then, translate the summary into %s. " +
        "Only output the translated bullet points."

    // TranslatePrompt translates "- " prefixed lines.  Arguments: target
    // language, joined lines.
    TranslatePrompt = "Translate the following messages into %s. " +
        "Preserve the tone and meaning as much as possible. Output only the translations:\n\n%s"

    // RecommendationPrompt asks for advice to the responding agent as a JSON
    // array.  Arguments: transcript, summary bullets, target language.
    RecommendationPrompt = "You are assisting an emergency call agent.\n\n" +
        "Transcript:\n%s\n\nSummary:\n%s\n\n" +
        "Give 3 to 5 recommendations for the agent handling this call. " +
        "Respond with a JSON array only. Each element must be an object with the fields " +
        `"type" ("advice", "warning" or "protocol"), "priority" ("high", "medium" or "low"), ` +
        `"title" (short), "content" (one or two sentences) and "confidence" (integer 0-100). ` +
        "Write title and content in %s."

    // AgentSuggestionPrompt asks for the next things the agent could say or
    // ask, as a JSON array.  Arguments: transcript, summary bullets, target
    // language.
    AgentSuggestionPrompt = "You are assisting an emergency call agent.\n\n" +
        "Transcript:\n%s\n\nSummary:\n%s\n\n" +
        "Suggest 3 to 5 questions or statements the agent should use next. " +
        "Respond with a JSON array only. Each element must be an object with the fields " +
        `"category" ("location", "medical", "safety", "details" or "reassurance"), ` +
        `"suggestion", "priority" (integer 1-10, 10 is critical) and "reasoning" (one sentence). ` +
        "Write suggestion and reasoning in %s."
)
