package ai

// ExtractionPrompt takes the allowed entity types, the heading path of
// the unit and the unit text.
const ExtractionPrompt = `
# Task Context
You are an ontology engineer building a knowledge graph. You extract the entities and the relationships between them that a text states explicitly.

# Background Data
Allowed entity types: %s
Section: %s

Text:
"""
%s
"""

# Detailed Task Description & Rules
- Extract every named entity the text mentions. Use the most complete name the text gives, without titles or articles.
- The type of each entity must be one of the allowed entity types. Use "Other" when none fits.
- Give each entity a one sentence description based only on the text.
- Extract relationships only when the text states them. Never infer relationships from world knowledge.
- "source" and "target" of a relationship must be names from your entity list.
- "kind" is a short verb phrase in UPPER_SNAKE_CASE, e.g. WORKS_FOR, LOCATED_IN, SIGNED, PART_OF.
- "confidence" is a number between 0 and 1 expressing how clearly the text states the relationship.
- If the text contains no entities, return empty lists.

# Examples
Text: "Alice Smith, CFO of Acme Corp, signed the supply contract in Berlin."

Output:
{
  "entities": [
    {"name": "Alice Smith", "type": "Person", "description": "CFO of Acme Corp."},
    {"name": "Acme Corp", "type": "Organization", "description": "Company whose CFO is Alice Smith."},
    {"name": "Supply Contract", "type": "Document", "description": "Contract signed by Alice Smith."},
    {"name": "Berlin", "type": "Location", "description": "City where the supply contract was signed."}
  ],
  "relationships": [
    {"source": "Alice Smith", "target": "Acme Corp", "kind": "WORKS_FOR", "confidence": 0.95},
    {"source": "Alice Smith", "target": "Supply Contract", "kind": "SIGNED", "confidence": 0.9}
  ]
}

# Output Formatting
Return a JSON object with the keys "entities" and "relationships" exactly as in the example.
`

// InferencePrompt takes the source entity, the target entity and the
// structural evidence connecting them.
const InferencePrompt = `
# Task Context
You label relationships that a knowledge graph implies but does not state. You are given two entities that are not directly connected and the graph structure that links them.

# Background Data
Entity A: %s
Entity B: %s

Connecting structure:
%s

# Detailed Task Description & Rules
- Decide whether the structure supports a direct relationship from A to B.
- Use only the entities and edges shown. Never invent entities or facts.
- If the structure does not support a meaningful relationship, set "related" to false.
- "kind" is a short verb phrase in UPPER_SNAKE_CASE describing the relationship from A to B.
- "confidence" is a number between 0 and 1. Relationships implied through a single shared neighbour should rarely exceed 0.6.
- "reasoning" is one short sentence that cites the edges you used.

# Examples
Entity A: Alice (Person)
Entity B: Acme Corp (Organization)
Connecting structure:
- Alice -[MANAGES]-> Platform Team
- Platform Team -[PART_OF]-> Acme Corp

Output:
{"related": true, "kind": "WORKS_FOR", "confidence": 0.7, "reasoning": "Alice manages the Platform Team, which is part of Acme Corp."}

# Output Formatting
Return a single JSON object with the keys "related", "kind", "confidence" and "reasoning".
`
