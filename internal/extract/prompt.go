package extract

const systemPrompt = "You are an assistant that extracts structured knowledge graph entries " +
	"from raw user text. For any facts you can identify that relate to the user's " +
	"personality, memories, preferences, morals, feelings, or general knowledge, " +
	"output a JSON array where each element has: category, question, answer. " +
	"IMPORTANT: Keep answers concise (1-2 sentences max). Always return a JSON array " +
	"(even if only one entry), not a single object. Use existing categories if clear, " +
	"otherwise pick the closest. Return ONLY valid JSON array - no other text or explanation."

const userPromptPrefix = "Extract knowledge graph entries from the following text:\n\n"
