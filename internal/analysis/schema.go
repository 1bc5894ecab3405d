package analysis

// JSON schemas the model output is validated against. Kept permissive on
// purpose: extra fields pass, but each section must have the right shape
// so the merge rules downstream never see garbage.

const batchFindingsSchema = `{
  "type": "object",
  "properties": {
    "timeline_events": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "date": {"type": "string"},
          "description": {"type": "string"},
          "source": {"type": "string"},
          "confidence": {"type": "string"}
        },
        "required": ["date", "description"]
      }
    },
    "persons": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "aliases": {"type": "array", "items": {"type": "string"}},
          "role": {"type": "string"},
          "mention_count": {"type": "integer", "minimum": 0},
          "sources": {"type": "array", "items": {"type": "string"}},
          "contexts": {"type": "array", "items": {"type": "string"}},
          "suspicion_score": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["name"]
      }
    },
    "conflicts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "parties": {"type": "array", "items": {"type": "string"}},
          "sources": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["description"]
      }
    },
    "tips": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "summary": {"type": "string"},
          "priority": {"type": "string"},
          "source": {"type": "string"}
        },
        "required": ["summary"]
      }
    },
    "insights": {"type": "array", "items": {"type": "string"}},
    "suspects": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "risk_score": {"type": "number", "minimum": 0, "maximum": 1},
          "reasoning": {"type": "string"}
        },
        "required": ["name"]
      }
    }
  }
}`

const caseAnalysisSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "timeline_events": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "date": {"type": "string"},
          "description": {"type": "string"},
          "source": {"type": "string"},
          "confidence": {"type": "string"}
        },
        "required": ["date", "description"]
      }
    },
    "persons": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "aliases": {"type": "array", "items": {"type": "string"}},
          "role": {"type": "string"},
          "mention_count": {"type": "integer", "minimum": 0},
          "sources": {"type": "array", "items": {"type": "string"}},
          "contexts": {"type": "array", "items": {"type": "string"}},
          "suspicion_score": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["name"]
      }
    },
    "conflicts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "parties": {"type": "array", "items": {"type": "string"}},
          "sources": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["description"]
      }
    },
    "tips": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "summary": {"type": "string"},
          "priority": {"type": "string"},
          "source": {"type": "string"}
        },
        "required": ["summary"]
      }
    },
    "insights": {"type": "array", "items": {"type": "string"}},
    "suspects": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "risk_score": {"type": "number", "minimum": 0, "maximum": 1},
          "reasoning": {"type": "string"}
        },
        "required": ["name"]
      }
    }
  }
}`
