package llm

import "fmt"

func synthesisSystemPrompt(targetLanguage string) string {
	return fmt.Sprintf(`You are a recipe extraction assistant. You receive the title, description, audio transcription and on-screen text of a cooking video. Extract the complete recipe and answer with a single JSON object, nothing else.

The JSON object has these keys:
- "name": the dish name
- "description": one or two sentences about the dish
- "ingredients": array of objects with "quantity", "unit", "food", "note" and "original_text". Leave "quantity" and "unit" empty when the video gives none. "original_text" is the ingredient line as stated in the video.
- "instructions": array of strings, one step each, in cooking order
- "yield": e.g. "4 servings", empty string when unknown
- "servings": integer, 0 when unknown
- "prep_time", "cook_time", "total_time": ISO 8601 durations like "PT15M", empty string when unknown
- "nutrition": object with "calories", "fat", "carbohydrates", "sugar", "fiber", "protein", "sodium", "cholesterol" as strings, each empty when unknown

Rules:
- Only include ingredients and steps actually supported by the video content. Never invent amounts.
- Merge duplicate ingredient mentions into one entry.
- Write all text in %s.`, languageName(targetLanguage))
}

const enrichmentSystemPrompt = `You estimate serving size and nutrition for a recipe from its name and ingredient list. Answer with a single JSON object, nothing else, with keys "yield" (e.g. "4 servings"), "servings" (integer) and "nutrition" (object with "calories", "fat", "carbohydrates", "sugar", "fiber", "protein", "sodium", "cholesterol" as strings, per serving). Use empty strings for values you cannot estimate.`

const frameTextPrompt = `These are frames from a cooking video. Transcribe any recipe-relevant text visible on screen: ingredient lists, amounts, temperatures, times, step captions. Preserve the order the text appears in. If no recipe-relevant text is visible, answer exactly: NO TEXT`

const dishFramePromptFmt = `These are %d frames from a cooking video, numbered 1 to %[1]d in order. Which frame best shows the finished, plated dish? Answer with the frame number only.`
