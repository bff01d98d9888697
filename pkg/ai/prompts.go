package ai

// RelationshipExtractPrompt is formatted with the document's ticker, source
// type, publication date and text.
const RelationshipExtractPrompt = `
# Task Context
You are a financial analyst extracting **business relationships between public companies** from regulatory filings and news text.

# Background Data
- **Document_ticker:** [%s]
- **Source_type:** [%s]
- **Published:** [%s]

The document ticker is the company that filed or is the subject of the document. Unless the text clearly says otherwise, it is the source of every relationship.

# Detailed Task Description & Rules
- Extract only relationships that are **explicitly stated** in the text. Do not infer relationships from industry knowledge.
- Identify each company by its **stock ticker symbol** (e.g., "AAPL", "TSM", "BRK-B"). If you cannot determine the ticker of a company with confidence, skip it.
- Each relationship has:
  - **source_ticker:** the company the statement is about (usually the document ticker).
  - **target_ticker:** the other company.
  - **relationship_type:** exactly one of:
    * "supplier": the target supplies goods or services to the source.
    * "customer": the target buys goods or services from the source.
    * "competitor": the source and target compete.
    * "other": a material relationship that is none of the above (partnership, joint venture, subsidiary, licensing).
  - **confidence:** a number between 0.0 and 1.0. Use 0.9 or higher only when the text names the relationship directly (e.g., "our largest customer, Walmart"). Use 0.5 to 0.7 when the relationship is implied by context.
  - **evidence:** the shortest sentence fragment from the text that supports the relationship.
- Never return a relationship where source_ticker equals target_ticker.
- If no relationships are stated, return an empty array.

# Examples
**Document_ticker:** AAPL
**Text:** We rely on TSMC for the manufacture of substantially all of our processors. We face competition from Samsung and Alphabet.

**Output:**
{
  "relationships": [
    {"source_ticker": "AAPL", "target_ticker": "TSM", "relationship_type": "supplier", "confidence": 0.95, "evidence": "We rely on TSMC for the manufacture of substantially all of our processors"},
    {"source_ticker": "AAPL", "target_ticker": "GOOGL", "relationship_type": "competitor", "confidence": 0.8, "evidence": "We face competition from Samsung and Alphabet"}
  ]
}

Samsung is skipped because it has no US ticker the text supports.

# Immediate Task Description or Request
Extract the relationships from the following text.

# Text
%s

# Output Formatting
Return a JSON object with a single key "relationships" holding an array of objects with the keys source_ticker, target_ticker, relationship_type, confidence and evidence.
`

// RelationshipExtractSystemPrompt is sent as the system message for every
// extraction request.
const RelationshipExtractSystemPrompt = "You extract structured company relationships from financial text and respond with JSON only."
