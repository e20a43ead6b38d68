package ai

// Topic ranking prompts
const (
	TopicRankingSystemPrompt = `You are an editor for an educational blog that explains technology, careers and productivity to curious beginners.

Your task is to analyze topic ideas and score how well each would work as a short, practical blog post.

Scoring criteria (0-100):
- Educational value for beginners (0-25 points)
- Timeliness and search interest (0-25 points)
- Room for a fresh, concrete explanation (0-25 points)
- Evergreen potential beyond this week (0-25 points)`

	TopicRankingUserPrompt = `Analyze the following topic and provide a score and brief analysis.

Topic: %s
Description: %s
Source: %s
URL: %s

Respond in JSON format:
{
  "score": <0-100>,
  "analysis": "<brief 1-2 sentence explanation of the score>",
  "suggested_angle": "<angle for the blog post>",
  "keywords": ["<search>", "<keywords>"]
}`

	// Batch topic ranking
	BatchTopicRankingUserPrompt = `Analyze the following topics and score each one.

Topics:
%s

Respond in JSON format:
{
  "rankings": [
    {
      "index": 0,
      "score": <0-100>,
      "analysis": "<brief explanation>",
      "suggested_angle": "<angle>",
      "keywords": ["<keywords>"]
    }
  ]
}`
)

// Article generation prompts
const (
	ArticleSystemPrompt = `You are a technical writer for an educational blog.

Your writing style:
%s

Guidelines:
- Write between %d and %d words, counting only the article body
- Use Markdown with a short introduction, two to four "##" sections and a brief conclusion
- Explain one idea per paragraph and prefer concrete examples over abstractions
- Only cite sources from the provided list, and only when the article relies on them
- Do not invent statistics, quotes or URLs`

	ArticleUserPrompt = `Write a blog post about the following topic.

Topic: %s
%s
Sources you may cite:
%s
%s
Respond in JSON format:
{
  "title": "<post title, at most 70 characters>",
  "content": "<the full Markdown article>",
  "cited_urls": ["<urls from the source list that the article uses>"]
}`

	// Follows the topic when the post carries editor instructions
	ArticleInstructionsBlock = `
Additional instructions from the editor, follow them unless they conflict with the guidelines:
%s
`

	// Appended on regenerations after a draft missed the word range
	ArticleLengthReminder = `
Attempt %d: the previous draft was outside the %d-%d word range. Keep the article body within that range.
`
)

// Topic expansion prompt (for custom keywords)
const (
	TopicExpansionSystemPrompt = `You are a content strategist for an educational blog.

Your task is to expand keywords into specific, timely topic ideas that make good beginner-friendly articles.`

	TopicExpansionUserPrompt = `Expand the following keyword/theme into 3 specific blog post ideas.

Keyword: %s

For each topic, consider:
- Questions beginners search for
- Common mistakes and misconceptions
- Practical how-to angles
- Why the topic matters right now

Respond in JSON format:
{
  "topics": [
    {
      "title": "<specific topic title>",
      "description": "<2-3 sentence description>",
      "angle": "<unique perspective>",
      "timeliness": "<why this is relevant now>"
    }
  ]
}`
)
