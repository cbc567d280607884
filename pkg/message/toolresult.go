package message

import (
	"encoding/json"
	"fmt"
)

// ToolResultStatus marks a tool result as success or error.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// ToolResultBlock pairs a tool use with its outcome. Content entries keep
// the order the tool produced them.
type ToolResultBlock struct {
	ToolUseID string              `json:"toolUseId"`
	Status    ToolResultStatus    `json:"status"`
	Content   []ToolResultContent `json:"content"`
}

// ToolResultContentKind discriminates tool result content entries.
type ToolResultContentKind string

const (
	ToolResultContentText     ToolResultContentKind = "text"
	ToolResultContentJSON     ToolResultContentKind = "json"
	ToolResultContentImage    ToolResultContentKind = "image"
	ToolResultContentDocument ToolResultContentKind = "document"
)

// ToolResultContent is the nested variant inside a tool result.
type ToolResultContent struct {
	Kind     ToolResultContentKind `json:"kind"`
	Text     *string               `json:"text,omitempty"`
	JSON     json.RawMessage       `json:"json,omitempty"`
	Image    *ImageBlock           `json:"image,omitempty"`
	Document *DocumentBlock        `json:"document,omitempty"`
}

// ToolResultText builds a text content entry.
func ToolResultText(text string) ToolResultContent {
	return ToolResultContent{Kind: ToolResultContentText, Text: &text}
}

// ToolResultJSON builds a JSON content entry.
func ToolResultJSON(raw json.RawMessage) ToolResultContent {
	return ToolResultContent{Kind: ToolResultContentJSON, JSON: raw}
}

// ToolResultImage builds an image content entry.
func ToolResultImage(img *ImageBlock) ToolResultContent {
	return ToolResultContent{Kind: ToolResultContentImage, Image: img}
}

// ToolResultDocument builds a document content entry.
func ToolResultDocument(doc *DocumentBlock) ToolResultContent {
	return ToolResultContent{Kind: ToolResultContentDocument, Document: doc}
}

// SuccessResult builds a successful tool result.
func SuccessResult(toolUseID string, content ...ToolResultContent) *ToolResultBlock {
	return &ToolResultBlock{ToolUseID: toolUseID, Status: ToolResultSuccess, Content: content}
}

// SuccessTextResult builds a successful tool result holding one text entry.
func SuccessTextResult(toolUseID, text string) *ToolResultBlock {
	return SuccessResult(toolUseID, ToolResultText(text))
}

// ErrorResult builds an error tool result holding one text entry. The loop
// uses these for missing tools and cancelled calls so the model can recover.
func ErrorResult(toolUseID, text string) *ToolResultBlock {
	return &ToolResultBlock{ToolUseID: toolUseID, Status: ToolResultError, Content: []ToolResultContent{ToolResultText(text)}}
}

// Validate checks status and nested content discriminants.
func (r *ToolResultBlock) Validate() error {
	if r.ToolUseID == "" {
		return fmt.Errorf("tool result requires a toolUseId")
	}
	switch r.Status {
	case ToolResultSuccess, ToolResultError:
	default:
		return fmt.Errorf("unknown tool result status %q", r.Status)
	}
	for i := range r.Content {
		if err := r.Content[i].Validate(); err != nil {
			return fmt.Errorf("tool result content %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks the content discriminant.
func (c *ToolResultContent) Validate() error {
	n := 0
	if c.Text != nil {
		n++
	}
	if len(c.JSON) > 0 {
		n++
	}
	if c.Image != nil {
		n++
	}
	if c.Document != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("tool result content must carry exactly one payload, has %d", n)
	}
	switch c.Kind {
	case ToolResultContentText:
		if c.Text == nil {
			return fmt.Errorf("tool result content kind %q has no text", c.Kind)
		}
	case ToolResultContentJSON:
		if len(c.JSON) == 0 {
			return fmt.Errorf("tool result content kind %q has no json", c.Kind)
		}
	case ToolResultContentImage:
		if c.Image == nil {
			return fmt.Errorf("tool result content kind %q has no image", c.Kind)
		}
	case ToolResultContentDocument:
		if c.Document == nil {
			return fmt.Errorf("tool result content kind %q has no document", c.Kind)
		}
	default:
		return fmt.Errorf("unknown tool result content kind %q", c.Kind)
	}
	return nil
}

// TextContent concatenates the text entries of the result.
func (r *ToolResultBlock) TextContent() string {
	var out string
	for _, c := range r.Content {
		if c.Text != nil {
			out += *c.Text
		}
	}
	return out
}

// Clone deep-copies the tool result.
func (r *ToolResultBlock) Clone() *ToolResultBlock {
	if r == nil {
		return nil
	}
	out := &ToolResultBlock{ToolUseID: r.ToolUseID, Status: r.Status}
	for _, c := range r.Content {
		cc := ToolResultContent{Kind: c.Kind}
		if c.Text != nil {
			v := *c.Text
			cc.Text = &v
		}
		cc.JSON = append(json.RawMessage(nil), c.JSON...)
		if c.Image != nil {
			v := *c.Image
			v.Source = c.Image.Source.clone()
			cc.Image = &v
		}
		if c.Document != nil {
			v := *c.Document
			v.Source = c.Document.Source.clone()
			cc.Document = &v
		}
		out.Content = append(out.Content, cc)
	}
	return out
}
