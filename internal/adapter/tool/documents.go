package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
	"conclave/internal/infra/tracer"
)

// WriteFileTool stores a document in the executing agent's store.
type WriteFileTool struct {
	logger *slog.Logger
	bus    domain.EventBus
}

// NewWriteFileTool creates the write_file tool. bus may be nil.
func NewWriteFileTool(logger *slog.Logger, bus domain.EventBus) *WriteFileTool {
	return &WriteFileTool{logger: logger, bus: bus}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write a text document to your private store, replacing any previous content at that path"
}

func (t *WriteFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1, "description": "Relative path, e.g. notes/summary.md"},
				"content": {"type": "string", "description": "Full document text"}
			},
			"required": ["path", "content"],
			"additionalProperties": false
		}`),
	}
}

type writeFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.write_file", t.logger, params,
		func(ctx context.Context, span trace.Span, p writeFileParams) (any, error) {
			if err := ValidateAll(
				RequireField("path", p.Path),
				ValidateMaxLength("content", p.Content, MaxDocumentBytes),
			); err != nil {
				return ErrResult("%s", err)
			}
			owner, err := executingAs[DocumentOwner](ctx, "store documents")
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("doc.path", p.Path))

			if err := owner.Documents().Write(ctx, p.Path, p.Content); err != nil {
				return nil, err
			}
			PublishToolEvent(ctx, t.bus, domain.EventDocumentWritten, map[string]any{
				"agent_id": owner.AgentID(),
				"path":     p.Path,
				"bytes":    len(p.Content),
			})
			return fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), p.Path), nil
		},
	)
}

// ReadFileTool reads a document from the executing agent's store.
type ReadFileTool struct {
	logger *slog.Logger
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(logger *slog.Logger) *ReadFileTool {
	return &ReadFileTool{logger: logger}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a text document from your private store" }

func (t *ReadFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1, "description": "Relative path of the document"}
			},
			"required": ["path"],
			"additionalProperties": false
		}`),
	}
}

type readFileParams struct {
	Path string `json:"path"`
}

// FileNotFound is the read_file reply for a path with no document.
const FileNotFound = "File not found: %s"

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.read_file", t.logger, params,
		func(ctx context.Context, _ trace.Span, p readFileParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return ErrResult("%s", err)
			}
			owner, err := executingAs[DocumentOwner](ctx, "read documents")
			if err != nil {
				return nil, err
			}
			content, ok, err := owner.Documents().Read(ctx, p.Path)
			if err != nil {
				return nil, err
			}
			if !ok {
				return fmt.Sprintf(FileNotFound, p.Path), nil
			}
			return TextResult(content), nil
		},
	)
}

// ListFilesTool lists the documents in the executing agent's store.
type ListFilesTool struct {
	logger *slog.Logger
}

// NewListFilesTool creates the list_files tool.
func NewListFilesTool(logger *slog.Logger) *ListFilesTool {
	return &ListFilesTool{logger: logger}
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "List the documents in your private store, optionally below a directory"
}

func (t *ListFilesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dir": {"type": "string", "description": "Optional directory to list, e.g. notes"}
			},
			"additionalProperties": false
		}`),
	}
}

type listFilesParams struct {
	Dir string `json:"dir"`
}

func (t *ListFilesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.list_files", t.logger, params,
		func(ctx context.Context, _ trace.Span, p listFilesParams) (any, error) {
			owner, err := executingAs[DocumentOwner](ctx, "list documents")
			if err != nil {
				return nil, err
			}
			paths, err := owner.Documents().List(ctx, p.Dir)
			if err != nil {
				return nil, err
			}
			if paths == nil {
				paths = []string{}
			}
			return JSONResult(paths)
		},
	)
}
