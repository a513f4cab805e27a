package mcpserver

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.md
var promptFiles embed.FS

// promptArg is one templated prompt argument. The body refers to it as
// {{name}}.
type promptArg struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
}

// promptDoc is a prompt file: YAML frontmatter followed by the body.
type promptDoc struct {
	Name        string      `yaml:"-"`
	Description string      `yaml:"description"`
	Arguments   []promptArg `yaml:"arguments"`
	Body        string      `yaml:"-"`
}

// loadPrompts reads every embedded prompt, ordered by name.
func loadPrompts() ([]promptDoc, error) {
	entries, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, err
	}
	var docs []promptDoc
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := promptFiles.ReadFile(path.Join("prompts", entry.Name()))
		if err != nil {
			return nil, err
		}
		doc, err := parsePrompt(content)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", entry.Name(), err)
		}
		doc.Name = strings.TrimSuffix(entry.Name(), ".md")
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// parsePrompt splits frontmatter from the body. A file without frontmatter
// is all body.
func parsePrompt(content []byte) (promptDoc, error) {
	var doc promptDoc
	if !bytes.HasPrefix(content, []byte("---\n")) {
		doc.Body = string(content)
		return doc, nil
	}
	rest := content[4:]
	end := bytes.Index(rest, []byte("\n---\n"))
	if end == -1 {
		doc.Body = string(content)
		return doc, nil
	}
	if err := yaml.Unmarshal(rest[:end], &doc); err != nil {
		return promptDoc{}, err
	}
	doc.Body = strings.TrimPrefix(string(rest[end+5:]), "\n")
	return doc, nil
}

// registerPrompts adds every embedded prompt. A broken prompt file is
// logged and skipped.
func (s *Server) registerPrompts() {
	docs, err := loadPrompts()
	if err != nil {
		s.logger.Warn("prompts not registered", "error", err)
		return
	}
	for _, doc := range docs {
		args := make([]*mcp.PromptArgument, 0, len(doc.Arguments))
		for _, a := range doc.Arguments {
			args = append(args, &mcp.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		s.server.AddPrompt(&mcp.Prompt{
			Name:        doc.Name,
			Description: doc.Description,
			Arguments:   args,
		}, doc.handler())
	}
}

// render fills the body's {{name}} placeholders from values, falling back
// to each argument's default.
func (d promptDoc) render(values map[string]string) (string, error) {
	pairs := make([]string, 0, 2*len(d.Arguments))
	for _, a := range d.Arguments {
		v, ok := values[a.Name]
		if !ok || v == "" {
			if a.Required {
				return "", fmt.Errorf("prompt %s: argument %q is required", d.Name, a.Name)
			}
			v = a.Default
		}
		pairs = append(pairs, "{{"+a.Name+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(d.Body), nil
}

func (d promptDoc) handler() mcp.PromptHandler {
	return func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var values map[string]string
		if req != nil && req.Params != nil {
			values = req.Params.Arguments
		}
		text, err := d.render(values)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{
			Description: d.Description,
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: text}},
			},
		}, nil
	}
}
