// Package chat routes staff questions to a knowledge source and runs the
// tool-calling answering loop against the model.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/retirementsolutions/raymondo/config"
	"github.com/retirementsolutions/raymondo/internal/llm"
	"github.com/retirementsolutions/raymondo/internal/session"
	"github.com/retirementsolutions/raymondo/internal/store"
	"github.com/retirementsolutions/raymondo/internal/structured"
	"github.com/retirementsolutions/raymondo/internal/telemetry"
)

// Knowledge sources a question can be routed to.
const (
	SourceDocuments = "documents"
	SourceCases     = "cases"
)

// Tool names offered to the model.
const (
	toolSearchKnowledgeBase = "search_knowledge_base"
	toolQueryCaseDatabase   = "query_case_database"
)

var (
	// ErrUnknownSource is returned for a source outside the routing table.
	ErrUnknownSource = errors.New("unknown knowledge source")
	// ErrSourceUnavailable is returned when the requested source exists but
	// is not configured on this deployment. No model call is made.
	ErrSourceUnavailable = errors.New("knowledge source not available")
	// ErrLoopExceeded is returned when the model keeps requesting tools past
	// the iteration cap.
	ErrLoopExceeded = errors.New("tool-calling loop exceeded iteration cap")
)

const systemPrompt = `You are Raymondo, an assistant for Retirement Solutions staff.
Answer questions about pension products, procedures and past cases.
Ground every answer in the results of the tools you are given; if they return
nothing relevant, say you do not know rather than guessing.
Keep answers concise and cite the source document names you relied on.`

// Answer is one completed chat turn.
type Answer struct {
	SessionID string `json:"session_id"`
	Content   string `json:"answer"`
}

// Router owns the answering loop: it picks the tools for the requested
// knowledge source, replays the session transcript and iterates with the
// model until it stops asking for tools.
type Router struct {
	provider   llm.Provider
	store      *store.Store
	structured *structured.Tool
	sessions   session.Store
	cfg        config.RetrievalConfig
	logger     *log.Logger
	tele       *telemetry.Telemetry
}

// NewRouter wires the router. structuredTool may be nil, which disables the
// cases source.
func NewRouter(provider llm.Provider, st *store.Store, structuredTool *structured.Tool, sessions session.Store, cfg config.RetrievalConfig, logger *log.Logger, tele *telemetry.Telemetry) *Router {
	return &Router{
		provider:   provider,
		store:      st,
		structured: structuredTool,
		sessions:   sessions,
		cfg:        cfg,
		logger:     logger,
		tele:       tele,
	}
}

// AvailableSources lists the sources this deployment can answer from. The
// cases source only appears when the case database is configured.
func (r *Router) AvailableSources() []string {
	sources := []string{SourceDocuments}
	if r.structured != nil {
		sources = append(sources, SourceCases)
	}
	return sources
}

// Answer runs one chat turn against the given knowledge source. An empty
// sessionID starts a new conversation; the returned Answer carries the id to
// continue it.
func (r *Router) Answer(ctx context.Context, source, sessionID, question string) (Answer, error) {
	started := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, errors.New("empty question")
	}

	switch source {
	case SourceDocuments:
	case SourceCases:
		if r.structured == nil {
			r.tele.ObserveTurn(source, "unavailable", time.Since(started))
			return Answer{}, fmt.Errorf("%w: %s", ErrSourceUnavailable, source)
		}
	default:
		return Answer{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	if sessionID == "" {
		sessionID = session.NewID()
	}
	history, err := r.sessions.History(ctx, sessionID)
	if err != nil {
		return Answer{}, fmt.Errorf("load transcript: %w", err)
	}

	prompt := question
	if source == SourceCases {
		prompt = fmt.Sprintf("Use the %s case table to answer: %s", r.structured.Table(), question)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	content, err := r.runLoop(ctx, messages, r.toolsFor(source))
	if err != nil {
		r.tele.ObserveTurn(source, "error", time.Since(started))
		return Answer{}, err
	}

	turn := []llm.Message{
		{Role: llm.RoleUser, Content: question},
		{Role: llm.RoleAssistant, Content: content},
	}
	if err := r.sessions.Append(ctx, sessionID, r.cfg.SessionTTL, turn...); err != nil {
		// The answer is already computed; losing transcript continuity is
		// not worth failing the turn over.
		r.logger.Printf("append transcript %s: %v", sessionID, err)
	}
	r.tele.ObserveTurn(source, "ok", time.Since(started))
	return Answer{SessionID: sessionID, Content: content}, nil
}

// runLoop iterates Complete until the model returns a final answer. Tool
// calls are executed sequentially in the order the model requested them, and
// each result goes back as a tool message before the next Complete.
func (r *Router) runLoop(ctx context.Context, messages []llm.Message, tools []llm.Tool) (string, error) {
	for i := 0; i < r.cfg.MaxToolIterations; i++ {
		completion, err := r.provider.Complete(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("model turn %d: %w", i+1, err)
		}
		if len(completion.ToolCalls) == 0 {
			return completion.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			result := r.execute(ctx, call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return "", fmt.Errorf("%w (%d)", ErrLoopExceeded, r.cfg.MaxToolIterations)
}

// execute runs one tool call. Failures are reported back to the model as the
// tool result rather than aborting the turn, so it can rephrase or stop.
func (r *Router) execute(ctx context.Context, call llm.ToolCall) string {
	switch call.Name {
	case toolSearchKnowledgeBase:
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("error: invalid arguments: %v", err)
		}
		result, err := r.searchKnowledgeBase(ctx, args.Query)
		if err != nil {
			r.logger.Printf("tool %s failed: %v", call.Name, err)
			return fmt.Sprintf("error: %v", err)
		}
		return result
	case toolQueryCaseDatabase:
		if r.structured == nil {
			return "error: case database not configured"
		}
		var args struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("error: invalid arguments: %v", err)
		}
		result, err := r.structured.Query(ctx, args.Question)
		if err != nil {
			r.logger.Printf("tool %s failed: %v", call.Name, err)
			return fmt.Sprintf("error: %v", err)
		}
		return result
	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
}

// searchKnowledgeBase embeds the query and returns the top matching chunks
// as a JSON array of passages with their similarity scores. Finding nothing
// is a valid result.
func (r *Router) searchKnowledgeBase(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("empty query")
	}
	vecs, err := r.provider.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.store.SearchChunks(ctx, vecs[0], r.cfg.TopK, "")
	if err != nil {
		return "", fmt.Errorf("search chunks: %w", err)
	}
	if len(matches) == 0 {
		return "No relevant passages found in the knowledge base.", nil
	}
	type passage struct {
		Source     string  `json:"source"`
		Content    string  `json:"content"`
		Similarity float64 `json:"similarity"`
	}
	passages := make([]passage, len(matches))
	for i, m := range matches {
		src, _ := m.Metadata[store.MetadataSourceKey].(string)
		passages[i] = passage{Source: src, Content: m.Content, Similarity: m.Similarity}
	}
	data, err := json.Marshal(passages)
	if err != nil {
		return "", fmt.Errorf("encode passages: %w", err)
	}
	return string(data), nil
}

// toolsFor returns the tool set for a source. Documents get vector retrieval
// only; cases additionally get the SQL tool.
func (r *Router) toolsFor(source string) []llm.Tool {
	tools := []llm.Tool{{
		Name:        toolSearchKnowledgeBase,
		Description: "Search the pension knowledge base for passages relevant to a query.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to search for, phrased as a short topic or question.",
				},
			},
			"required": []string{"query"},
		},
	}}
	if source == SourceCases && r.structured != nil {
		tools = append(tools, llm.Tool{
			Name:        toolQueryCaseDatabase,
			Description: "Answer a question from the historical case database by generating and running a read-only SQL query.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{
						"type":        "string",
						"description": "The question to answer from the case table.",
					},
				},
				"required": []string{"question"},
			},
		})
	}
	return tools
}
