package ensemble

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/coach-qa/citation"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/prompt"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/tokenizer"
)

const defaultAnswerPrompt = `You help a sports coach answer an athlete's question.
Answer only from the coach content provided. After each sentence that uses the content, cite it with the marker shown before that content, for example [src:abc123].
Never invent markers and never cite content you did not use.
If the content does not cover the question, say so in one sentence.
Do not diagnose injuries or give medical instructions.
Write at most 180 words of plain text.`

const defaultUngroundedPrompt = `You help a sports coach answer an athlete's question.
None of the coach's own content covers this question. Give brief, general, widely accepted coaching guidance only.
Do not cite sources and do not use [src:...] markers.
Do not diagnose injuries or give medical instructions.
Write at most 120 words of plain text.`

const defaultAdjudicatorPrompt = `You merge candidate answers to an athlete's question into one answer.
Prefer statements that appear in more than one candidate. Drop statements that only one candidate makes unless the coach content clearly supports them.
Keep the [src:...] markers attached to the statements you keep. Never add markers or facts.
List every point where the candidates contradict each other.
Return JSON only: {"answer": "merged answer text", "contradictions": ["short description"]}`

const defaultCriticPrompt = `You review a draft answer to an athlete's question against the coach content.
Check that every statement is supported by the content, that [src:...] markers point at content that says what the sentence claims, and that nothing unsafe is advised.
Return JSON only: {"verdict": "approve" or "revise", "issues": ["concrete problem"]}`

// sources renders chunks as cited blocks, keeping as many as fit the token budget.
func sources(chunks []document.Chunk, tok tokenizer.Tokenizer, budget int) string {
	if len(chunks) == 0 {
		return ""
	}
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = citation.Marker(c.SourceID) + "\n" + strings.TrimSpace(c.Text)
	}
	return strings.Join(tokenizer.Fit(tok, blocks, budget), "\n\n")
}

func (g *Generator) answerRequest(in Input) llm.Request {
	b := prompt.NewBuilder().AddSection("Question", in.Question)
	system := g.cfg.AnswerPrompt
	if in.Grounded {
		b.AddSection("Coach content", sources(in.Chunks, g.cfg.Tokenizer, g.cfg.ContextTokens))
	} else {
		system = g.cfg.UngroundedPrompt
	}
	return llm.Prompt(system, b.Build(), g.cfg.MaxTokens)
}

func (g *Generator) adjudicatorRequest(in Input, outputs []BackendOutput) llm.Request {
	b := prompt.NewBuilder().AddSection("Question", in.Question)
	if in.Grounded {
		b.AddSection("Coach content", sources(in.Chunks, g.cfg.Tokenizer, g.cfg.ContextTokens))
	}
	n := 0
	for _, o := range outputs {
		if !o.OK() {
			continue
		}
		n++
		b.AddSection(fmt.Sprintf("Candidate %d", n), o.Text)
	}
	b.Add("Return JSON only.")
	return llm.Prompt(g.cfg.AdjudicatorPrompt, b.Build(), g.cfg.MaxTokens)
}

func (g *Generator) criticRequest(in Input, draft string) llm.Request {
	b := prompt.NewBuilder().
		AddSection("Question", in.Question).
		AddSection("Coach content", sources(in.Chunks, g.cfg.Tokenizer, g.cfg.ContextTokens)).
		AddSection("Draft answer", draft).
		Add("Return JSON only.")
	return llm.Prompt(g.cfg.CriticPrompt, b.Build(), g.cfg.MaxTokens)
}

// revisionRequest replays the answer request with the draft and the critique
// appended as extra context.
func (g *Generator) revisionRequest(in Input, draft string, issues []string) llm.Request {
	req := g.answerRequest(in)
	b := prompt.NewBuilder().
		Add(req.Messages[0].Content).
		AddSection("Your previous draft", draft).
		AddList("Reviewer issues to fix", issues).
		Add("Rewrite the answer fixing these issues. Use only the coach content.")
	req.Messages[0].Content = b.Build()
	return req
}
