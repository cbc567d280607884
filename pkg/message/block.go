package message

import (
	"encoding/json"
	"fmt"
)

// BlockKind discriminates the content block variants.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockReasoning  BlockKind = "reasoning"
	BlockToolUse    BlockKind = "toolUse"
	BlockToolResult BlockKind = "toolResult"
	BlockImage      BlockKind = "image"
	BlockVideo      BlockKind = "video"
	BlockDocument   BlockKind = "document"
	BlockCachePoint BlockKind = "cachePoint"
	BlockGuard      BlockKind = "guardContent"
)

// ContentBlock is a tagged variant: Kind selects exactly one payload field.
// Build values through the New*Block constructors; Validate enforces the
// discriminant.
type ContentBlock struct {
	Kind       BlockKind        `json:"kind"`
	Text       *TextBlock       `json:"text,omitempty"`
	Reasoning  *ReasoningBlock  `json:"reasoning,omitempty"`
	ToolUse    *ToolUseBlock    `json:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
	Image      *ImageBlock      `json:"image,omitempty"`
	Video      *VideoBlock      `json:"video,omitempty"`
	Document   *DocumentBlock   `json:"document,omitempty"`
	CachePoint *CachePointBlock `json:"cachePoint,omitempty"`
	Guard      *GuardBlock      `json:"guardContent,omitempty"`
}

// TextBlock is plain assistant or user text.
type TextBlock struct {
	Text string `json:"text"`
}

// ReasoningBlock carries model reasoning. Signature and RedactedBytes are
// provider-specific and preserved verbatim.
type ReasoningBlock struct {
	Text          string `json:"text,omitempty"`
	Signature     string `json:"signature,omitempty"`
	RedactedBytes []byte `json:"redactedBytes,omitempty"`
}

// ToolUseBlock is a model request to execute a named tool. Input is any
// JSON value, including null.
type ToolUseBlock struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// ImageBlock references image content by format and source.
type ImageBlock struct {
	Format string `json:"format"`
	Source Source `json:"source"`
}

// VideoBlock references video content by format and source.
type VideoBlock struct {
	Format string `json:"format"`
	Source Source `json:"source"`
}

// DocumentBlock references a named document by format and source.
type DocumentBlock struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Source Source `json:"source"`
}

// CachePointBlock is a passthrough marker for provider prompt caching.
type CachePointBlock struct {
	CacheType string `json:"cacheType"`
}

// DefaultCacheType is used when a cache point does not name a type.
const DefaultCacheType = "default"

// GuardBlock is a passthrough marker for provider guardrail content.
type GuardBlock struct {
	Text       string   `json:"text"`
	Qualifiers []string `json:"qualifiers,omitempty"`
}

// NewTextBlock wraps text in a content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: &TextBlock{Text: text}}
}

// NewReasoningBlock wraps reasoning text and an optional signature.
func NewReasoningBlock(text, signature string) ContentBlock {
	return ContentBlock{Kind: BlockReasoning, Reasoning: &ReasoningBlock{Text: text, Signature: signature}}
}

// NewRedactedReasoningBlock preserves redacted reasoning bytes unchanged.
func NewRedactedReasoningBlock(redacted []byte) ContentBlock {
	return ContentBlock{Kind: BlockReasoning, Reasoning: &ReasoningBlock{RedactedBytes: redacted}}
}

// NewToolUseBlock wraps a tool request. A nil input marshals as JSON null.
func NewToolUseBlock(toolUseID, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUse: &ToolUseBlock{ToolUseID: toolUseID, Name: name, Input: input}}
}

// NewToolResultBlock wraps a tool result.
func NewToolResultBlock(result *ToolResultBlock) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResult: result}
}

// NewImageBlock wraps an image.
func NewImageBlock(format string, source Source) ContentBlock {
	return ContentBlock{Kind: BlockImage, Image: &ImageBlock{Format: format, Source: source}}
}

// NewVideoBlock wraps a video.
func NewVideoBlock(format string, source Source) ContentBlock {
	return ContentBlock{Kind: BlockVideo, Video: &VideoBlock{Format: format, Source: source}}
}

// NewDocumentBlock wraps a named document.
func NewDocumentBlock(format, name string, source Source) ContentBlock {
	return ContentBlock{Kind: BlockDocument, Document: &DocumentBlock{Format: format, Name: name, Source: source}}
}

// NewCachePointBlock marks a prompt-cache boundary.
func NewCachePointBlock(cacheType string) ContentBlock {
	if cacheType == "" {
		cacheType = DefaultCacheType
	}
	return ContentBlock{Kind: BlockCachePoint, CachePoint: &CachePointBlock{CacheType: cacheType}}
}

// NewGuardBlock wraps guardrail content.
func NewGuardBlock(text string, qualifiers ...string) ContentBlock {
	return ContentBlock{Kind: BlockGuard, Guard: &GuardBlock{Text: text, Qualifiers: qualifiers}}
}

// Validate checks that Kind names exactly the one payload that is set.
func (b *ContentBlock) Validate() error {
	var set []BlockKind
	if b.Text != nil {
		set = append(set, BlockText)
	}
	if b.Reasoning != nil {
		set = append(set, BlockReasoning)
	}
	if b.ToolUse != nil {
		set = append(set, BlockToolUse)
	}
	if b.ToolResult != nil {
		set = append(set, BlockToolResult)
	}
	if b.Image != nil {
		set = append(set, BlockImage)
	}
	if b.Video != nil {
		set = append(set, BlockVideo)
	}
	if b.Document != nil {
		set = append(set, BlockDocument)
	}
	if b.CachePoint != nil {
		set = append(set, BlockCachePoint)
	}
	if b.Guard != nil {
		set = append(set, BlockGuard)
	}
	if len(set) != 1 {
		return fmt.Errorf("content block must carry exactly one payload, has %d", len(set))
	}
	if set[0] != b.Kind {
		return fmt.Errorf("content block kind %q does not match payload %q", b.Kind, set[0])
	}
	switch b.Kind {
	case BlockToolUse:
		if b.ToolUse.ToolUseID == "" {
			return fmt.Errorf("tool use block requires a toolUseId")
		}
		if b.ToolUse.Name == "" {
			return fmt.Errorf("tool use block requires a name")
		}
	case BlockToolResult:
		if err := b.ToolResult.Validate(); err != nil {
			return err
		}
	case BlockImage:
		if err := b.Image.Source.Validate(); err != nil {
			return err
		}
	case BlockVideo:
		if err := b.Video.Source.Validate(); err != nil {
			return err
		}
	case BlockDocument:
		if b.Document.Name == "" {
			return fmt.Errorf("document block requires a name")
		}
		if err := b.Document.Source.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalJSON decodes a block and rejects unknown or mismatched kinds.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case BlockText, BlockReasoning, BlockToolUse, BlockToolResult,
		BlockImage, BlockVideo, BlockDocument, BlockCachePoint, BlockGuard:
	default:
		return fmt.Errorf("unknown content block kind %q", raw.Kind)
	}
	*b = ContentBlock(raw)
	return b.Validate()
}

// Clone deep-copies the block.
func (b ContentBlock) Clone() ContentBlock {
	out := ContentBlock{Kind: b.Kind}
	switch {
	case b.Text != nil:
		v := *b.Text
		out.Text = &v
	case b.Reasoning != nil:
		v := *b.Reasoning
		v.RedactedBytes = append([]byte(nil), b.Reasoning.RedactedBytes...)
		out.Reasoning = &v
	case b.ToolUse != nil:
		v := *b.ToolUse
		v.Input = append(json.RawMessage(nil), b.ToolUse.Input...)
		out.ToolUse = &v
	case b.ToolResult != nil:
		out.ToolResult = b.ToolResult.Clone()
	case b.Image != nil:
		v := *b.Image
		v.Source = b.Image.Source.clone()
		out.Image = &v
	case b.Video != nil:
		v := *b.Video
		v.Source = b.Video.Source.clone()
		out.Video = &v
	case b.Document != nil:
		v := *b.Document
		v.Source = b.Document.Source.clone()
		out.Document = &v
	case b.CachePoint != nil:
		v := *b.CachePoint
		out.CachePoint = &v
	case b.Guard != nil:
		v := *b.Guard
		v.Qualifiers = append([]string(nil), b.Guard.Qualifiers...)
		out.Guard = &v
	}
	return out
}
