// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/orchestrator/llm"
	"sqlpilot/platform/shared/logger"
)

// Generation settings are deliberately conservative. SQL generation wants
// determinism, not creativity.
const (
	generationTemperature = 0.1
	generationTopP        = 0.8
	generationTopK        = 40
	generationMaxTokens   = 1024

	// sqlMarker is the marker the model is instructed to emit before the
	// final query. Extraction takes everything after its last occurrence.
	sqlMarker = "SQL:"
)

// GenerateOptions carries the optional refinement inputs for a regeneration
// attempt after a failed execution.
type GenerateOptions struct {
	// RefinedContext switches the prompt into repair mode.
	RefinedContext bool
	// PreviousQuery is the query that failed.
	PreviousQuery string
	// PreviousError is the engine error the failed query produced.
	PreviousError string
}

// LLMCallFunc observes every provider call. Wired to metrics at the
// composition root.
type LLMCallFunc func(provider string, success bool)

// QueryGenerator turns a natural-language prompt plus an introspected schema
// into a single read-only query for the target engine.
type QueryGenerator struct {
	provider llm.Provider
	log      *logger.Logger

	// OnLLMCall, when set, observes provider call outcomes.
	OnLLMCall LLMCallFunc
}

// NewQueryGenerator creates a generator backed by the given provider.
func NewQueryGenerator(provider llm.Provider, log *logger.Logger) *QueryGenerator {
	return &QueryGenerator{provider: provider, log: log}
}

// Generate produces a query for the prompt against the given schema. When the
// provider call itself fails, one retry is made with the refinement context
// enabled before giving up.
func (g *QueryGenerator) Generate(ctx context.Context, requestID string, config *base.ConnectionConfig, schemas []base.TableSchema, prompt string, opts GenerateOptions) (string, error) {
	fullPrompt := g.buildContext(config, schemas, prompt, opts)

	query, err := g.complete(ctx, requestID, fullPrompt)
	if err == nil {
		return query, nil
	}

	g.log.Warn(requestID, "query generation failed, retrying with refined context", map[string]interface{}{
		"provider": g.provider.Name(),
		"error":    base.SanitizeLogString(err.Error()),
	})

	retryOpts := opts
	retryOpts.RefinedContext = true
	if retryOpts.PreviousError == "" {
		retryOpts.PreviousError = err.Error()
	}

	query, retryErr := g.complete(ctx, requestID, g.buildContext(config, schemas, prompt, retryOpts))
	if retryErr != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, retryErr)
	}
	return query, nil
}

func (g *QueryGenerator) complete(ctx context.Context, requestID, fullPrompt string) (string, error) {
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      fullPrompt,
		MaxTokens:   generationMaxTokens,
		Temperature: generationTemperature,
		TopP:        generationTopP,
		TopK:        generationTopK,
	})
	g.emit(err == nil)
	if err != nil {
		return "", err
	}

	query, err := extractSQL(resp.Content)
	if err != nil {
		return "", err
	}

	g.log.Debug(requestID, "query generated", map[string]interface{}{
		"provider":      g.provider.Name(),
		"model":         resp.Model,
		"total_tokens":  resp.Usage.TotalTokens,
		"finish_reason": resp.FinishReason,
	})
	return query, nil
}

// buildContext renders the prompt: engine and database identification, the
// schema as one line per column, the task, and the output contract. With
// RefinedContext set it adds the failed attempt and repair instructions.
func (g *QueryGenerator) buildContext(config *base.ConnectionConfig, schemas []base.TableSchema, prompt string, opts GenerateOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a %s expert. Generate a single read-only query for the database described below.\n\n", engineLabel(config.Type))
	fmt.Fprintf(&b, "Database: %s (%s)\n\n", config.DatabaseName(), config.Type)

	b.WriteString("Schema:\n")
	for _, schema := range schemas {
		fmt.Fprintf(&b, "Table %s:\n", schema.TableName)
		for _, col := range schema.Columns {
			fmt.Fprintf(&b, "  - %s %s", col.Name, col.Type)
			if col.IsPrimary {
				b.WriteString(" PRIMARY KEY")
			}
			if !col.Nullable {
				b.WriteString(" NOT NULL")
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nTask: %s\n\n", prompt)

	if opts.RefinedContext {
		b.WriteString("A previous attempt failed and must be repaired.\n")
		if opts.PreviousQuery != "" {
			fmt.Fprintf(&b, "Failed query:\n%s\n", opts.PreviousQuery)
		}
		if opts.PreviousError != "" {
			fmt.Fprintf(&b, "Error:\n%s\n", opts.PreviousError)
		}
		b.WriteString("\nWhen writing the corrected query:\n")
		b.WriteString("- Double-check every column name and type against the schema above\n")
		b.WriteString("- Verify join conditions reference existing columns\n")
		b.WriteString("- Add explicit casts where types may not match\n")
		b.WriteString("- Prefer a simpler query structure over a clever one\n")
		b.WriteString("- Follow the schema exactly, never invent tables or columns\n")
		b.WriteString("- Handle NULL values explicitly where they can occur\n")
		b.WriteString("- Take care with date and time comparisons and formats\n\n")
	}

	b.WriteString("Requirements:\n")
	if config.Type == base.TypeMongoDB {
		b.WriteString("- Respond with a single JSON document of the form {\"collection\": \"<name>\", \"pipeline\": [ ... ]} using aggregation stages\n")
		b.WriteString("- Use only read stages, never $out or $merge\n")
	} else {
		fmt.Fprintf(&b, "- Use %s syntax\n", engineLabel(config.Type))
		b.WriteString("- The query must be read-only (SELECT or equivalent), never modify data\n")
		b.WriteString("- Use only the tables and columns listed in the schema\n")
		b.WriteString("- Include column names explicitly, never SELECT *\n")
		b.WriteString("- Use appropriate JOIN conditions when combining tables\n")
		b.WriteString("- Format the query with proper indentation\n")
	}
	b.WriteString("- Return exactly one query with no explanation\n\n")
	fmt.Fprintf(&b, "Respond with the query on the final line, prefixed with \"%s\".\n", sqlMarker)

	return b.String()
}

// extractSQL pulls the query out of a model response. Everything after the
// last SQL: marker is taken; without a marker the whole response is used.
func extractSQL(content string) (string, error) {
	text := content
	if idx := strings.LastIndex(content, sqlMarker); idx >= 0 {
		text = content[idx+len(sqlMarker):]
	}

	query := base.CleanQuery(text)
	if query == "" {
		return "", fmt.Errorf("%w: model response contained no query", ErrGeneration)
	}
	return query, nil
}

func engineLabel(t base.DatabaseType) string {
	switch t {
	case base.TypePostgreSQL:
		return "PostgreSQL"
	case base.TypeMySQL:
		return "MySQL"
	case base.TypeSQLite:
		return "SQLite"
	case base.TypeMongoDB:
		return "MongoDB"
	default:
		return string(t)
	}
}

func (g *QueryGenerator) emit(success bool) {
	if g.OnLLMCall != nil {
		g.OnLLMCall(g.provider.Name(), success)
	}
}
