// Package llm holds the request and response types exchanged with models
// and the Model interface the agents call.
package llm

import (
	"fmt"
	"strings"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/tool"
	"google.golang.org/genai"
)

// Request is one model call under construction. Request processors fill it
// in before the model sees it.
type Request struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
	Tools    map[string]tool.Tool

	// CacheConfig enables context caching for the request.
	CacheConfig *cache.Config
	// CacheMetadata is the cache state observed on earlier responses.
	CacheMetadata *cache.Metadata
}

// NewRequest returns an empty request for model.
func NewRequest(model string) *Request {
	return &Request{
		Model:  model,
		Config: &genai.GenerateContentConfig{},
		Tools:  map[string]tool.Tool{},
	}
}

func (r *Request) ensureConfig() {
	if r.Config == nil {
		r.Config = &genai.GenerateContentConfig{}
	}
	if r.Tools == nil {
		r.Tools = map[string]tool.Tool{}
	}
}

// SystemInstructionText returns the text of the system instruction.
func (r *Request) SystemInstructionText() string {
	if r.Config == nil || r.Config.SystemInstruction == nil {
		return ""
	}
	var parts []string
	for _, p := range r.Config.SystemInstruction.Parts {
		if p != nil && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *Request) setSystemInstructionText(text string) {
	r.Config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: text}}}
}

// AppendInstructions joins texts with blank lines onto the system
// instruction.
func (r *Request) AppendInstructions(texts ...string) {
	r.ensureConfig()
	var kept []string
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return
	}
	next := strings.Join(kept, "\n\n")
	if cur := r.SystemInstructionText(); cur != "" {
		next = cur + "\n\n" + next
	}
	r.setSystemInstructionText(next)
}

// AppendInstructionContent appends an instruction that may carry non-text
// parts. Text parts go to the system instruction. Every other part gets a
// reference ID numbered in order of the non-text parts and a reference line
// in the system instruction. The returned user contents carry the
// referenced parts and must be sent along with the conversation.
func (r *Request) AppendInstructionContent(c *genai.Content) []*genai.Content {
	r.ensureConfig()
	if c == nil {
		return nil
	}
	var (
		texts    []string
		referred []*genai.Content
	)
	for _, p := range c.Parts {
		i := len(referred)
		switch {
		case p == nil:
		case p.Text != "":
			texts = append(texts, p.Text)
		case p.InlineData != nil:
			id := fmt.Sprintf("inline_data_%d", i)
			texts = append(texts, fmt.Sprintf("[Reference to inline binary data: %s (%stype: %s)]",
				id, displayName(p.InlineData.DisplayName), p.InlineData.MIMEType))
			referred = append(referred, referenceContent("Referenced inline data: "+id, p))
		case p.FileData != nil:
			id := fmt.Sprintf("file_data_%d", i)
			texts = append(texts, fmt.Sprintf("[Reference to file data: %s (%sURI: %s, type: %s)]",
				id, displayName(p.FileData.DisplayName), p.FileData.FileURI, p.FileData.MIMEType))
			referred = append(referred, referenceContent("Referenced file data: "+id, p))
		}
	}
	r.AppendInstructions(texts...)
	return referred
}

func displayName(name string) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf("'%s', ", name)
}

func referenceContent(label string, p *genai.Part) *genai.Content {
	return &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{genai.NewPartFromText(label), p}}
}

// AppendTools registers tools and merges their declarations into a single
// function-declaring genai.Tool. Tools without a declaration are skipped.
func (r *Request) AppendTools(tools ...tool.Tool) {
	r.ensureConfig()
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		d := t.Declaration()
		if d == nil {
			continue
		}
		decls = append(decls, d)
		r.Tools[t.Name()] = t
	}
	if len(decls) == 0 {
		return
	}
	for _, gt := range r.Config.Tools {
		if gt != nil && len(gt.FunctionDeclarations) > 0 {
			gt.FunctionDeclarations = append(gt.FunctionDeclarations, decls...)
			return
		}
	}
	r.Config.Tools = append(r.Config.Tools, &genai.Tool{FunctionDeclarations: decls})
}

// AppendContents adds contents at the end of the conversation.
func (r *Request) AppendContents(contents ...*genai.Content) {
	r.Contents = append(r.Contents, contents...)
}

// LastContent returns the last content, or nil.
func (r *Request) LastContent() *genai.Content {
	if len(r.Contents) == 0 {
		return nil
	}
	return r.Contents[len(r.Contents)-1]
}

// SetOutputSchema asks the model for JSON matching schema.
func (r *Request) SetOutputSchema(schema *genai.Schema) {
	r.ensureConfig()
	r.Config.ResponseSchema = schema
	r.Config.ResponseMIMEType = "application/json"
}

var _ tool.Request = (*Request)(nil)
