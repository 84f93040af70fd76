package mentor

import (
	"context"
	"strings"
	"unicode"

	"studyhall/pkg/types"
)

type category struct {
	keywords []string
	replies  []string
}

// Categories are tried in order; the first whole-word keyword hit wins.
var categories = []category{
	{
		keywords: []string{"hello", "hi", "hey", "bonjour", "salut"},
		replies: []string{
			"Hello! I'm glad you're here. What would you like to learn today?",
			"Hi again! Ready to discover something new together?",
			"Hey! Which subject should we look at next?",
		},
	},
	{
		keywords: []string{"math", "maths", "calculate", "calculus", "number", "numbers", "fraction", "fractions", "equation", "equations"},
		replies: []string{
			"Math is everywhere around us, from prices at the market to recipes in the kitchen. Which concept do you want to explore?",
			"Great math question! Let's break the problem down step by step, starting with what we know.",
			"Math problems can look hard, but every one has a solution. Try writing down the first step and we'll build from there.",
		},
	},
	{
		keywords: []string{"science", "sciences", "physics", "chemistry", "biology"},
		replies: []string{
			"Science helps us understand the world around us. What are you curious about?",
			"Excellent scientific curiosity! Let's look at what is really happening here.",
			"Let's think like researchers: what would you observe, and what would you expect to happen?",
		},
	},
	{
		keywords: []string{"grammar", "writing", "essay", "spelling", "reading"},
		replies: []string{
			"Language opens so many doors. Do you want to work on grammar, writing or speaking?",
			"Wonderful! Share a sentence and we'll improve it together.",
			"Every word matters. Let's read it once more and find the key idea.",
		},
	},
	{
		keywords: []string{"hard", "difficult", "stuck", "help", "problem", "problems"},
		replies: []string{
			"It's normal to find this difficult. Even great scientists started with simple questions. Let's split it into smaller pieces.",
			"No worries! Every difficulty is a chance to learn. We'll take the time we need.",
			"The best successes come after the biggest challenges. We'll get there together!",
		},
	},
}

var encouragement = []string{
	"You're making good progress! Keep going, every small step counts.",
	"Well done! A curious mind is the key to success.",
	"Excellent work! Today's effort builds tomorrow's success.",
}

// RuleResponder is a keyword-based ResponseGenerator. The reply within a
// category is chosen from the number of completed exchanges, so the same
// conversation always yields the same replies.
type RuleResponder struct{}

// NewRuleResponder returns the built-in response generator.
func NewRuleResponder() *RuleResponder { return &RuleResponder{} }

func (*RuleResponder) Generate(ctx context.Context, message string, history []types.ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	replies := encouragement
	words := wordSet(message)
	for _, c := range categories {
		if containsAny(words, c.keywords) {
			replies = c.replies
			break
		}
	}
	return replies[(len(history)/2)%len(replies)], nil
}

func wordSet(message string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func containsAny(words map[string]struct{}, keywords []string) bool {
	for _, k := range keywords {
		if _, ok := words[k]; ok {
			return true
		}
	}
	return false
}
