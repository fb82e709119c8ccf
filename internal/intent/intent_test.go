package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyGreeting(t *testing.T) {
	for _, q := range []string{"hello", "Hi!", "hey", "Good morning", "greetings."} {
		assert.Equal(t, Greeting, Classify(q), q)
	}
}

func TestGreetingMustStandAlone(t *testing.T) {
	assert.NotEqual(t, Greeting, Classify("hello, how many classes for C1-T1?"))
}

func TestClassifyFactual(t *testing.T) {
	for _, q := range []string{
		"How many classes for C1-T1?",
		"When did I learn C2-T3?",
		"List all courses",
		"Which topics have assignments?",
		"What are the topics in C1?",
	} {
		assert.Equal(t, Factual, Classify(q), q)
	}
}

func TestClassifySemantic(t *testing.T) {
	for _, q := range []string{
		"Describe each course",
		"Explain photosynthesis",
		"Tell me about Databases and SQL",
		"Summarize topic C1-T2",
	} {
		assert.Equal(t, Semantic, Classify(q), q)
	}
}

func TestClassifyMixed(t *testing.T) {
	for _, q := range []string{
		"List and describe each course",     // factual + semantic cues
		"I want to know more",               // no cues
		"",                                  // empty
		"Explain what happened when I learned C2-T3", // temporal + entity
	} {
		assert.Equal(t, Mixed, Classify(q), q)
	}
}

func TestExtractTopicCode(t *testing.T) {
	assert.Equal(t, "C1-T1", ExtractTopicCode("How many classes for C1-T1?"))
	assert.Equal(t, "C2-T3", ExtractTopicCode("when did i learn c2-t3?"))
	assert.Equal(t, "C10-T42", ExtractTopicCode("about C10-T42 and C1-T1"))
	assert.Equal(t, "", ExtractTopicCode("no code here"))
}
