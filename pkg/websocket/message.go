// Package websocket provides the diffview WebSocket message types and protocol definitions.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// MessageType is the "type" discriminator of every frame.
type MessageType string

// Client to server
const (
	MessageTypeWatch   MessageType = "watch"
	MessageTypeUnwatch MessageType = "unwatch"
	MessageTypeRefresh MessageType = "refresh"
)

// Server to client
const (
	MessageTypeFileUpdate  MessageType = "fileUpdate"
	MessageTypeFileRemoved MessageType = "fileRemoved"
)

var (
	// ErrMalformedMessage is returned for frames that are not valid client messages.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrRelativePath is returned when absolutePath is empty or not absolute.
	ErrRelativePath = errors.New("absolutePath must be absolute")

	// ErrUnknownType is returned for a well-formed frame with an unrecognised type.
	ErrUnknownType = errors.New("unknown message type")
)

// ClientMessage is a parsed watch, unwatch or refresh request.
type ClientMessage struct {
	Type         MessageType `json:"type"`
	AbsolutePath string      `json:"absolutePath,omitempty"`
	PrevBranch   string      `json:"prevBranch,omitempty"`
	CurrBranch   string      `json:"currBranch,omitempty"`
}

// FileUpdate carries one computation for a watched path.
type FileUpdate struct {
	Type            MessageType `json:"type"`
	AbsolutePath    string      `json:"absolutePath"`
	Filename        string      `json:"filename"`
	Content         string      `json:"content"`
	Diff            string      `json:"diff"`
	OriginalContent string      `json:"originalContent"`
	ModifiedContent string      `json:"modifiedContent"`
	Error           string      `json:"error,omitempty"`
}

// FileRemoved announces that nobody watches a path any more.
type FileRemoved struct {
	Type         MessageType `json:"type"`
	AbsolutePath string      `json:"absolutePath"`
}

// ParseClientMessage decodes one inbound frame. Paths are cleaned and must be
// absolute. Unknown types return ErrUnknownType together with the decoded
// message so callers can log the type.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case MessageTypeWatch, MessageTypeUnwatch:
		path, err := cleanAbsolute(msg.AbsolutePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		msg.AbsolutePath = path
	case MessageTypeRefresh:
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return &msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	msg.PrevBranch = strings.TrimSpace(msg.PrevBranch)
	msg.CurrBranch = strings.TrimSpace(msg.CurrBranch)
	return &msg, nil
}

func cleanAbsolute(path string) (string, error) {
	if path == "" || !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrRelativePath, path)
	}
	return filepath.Clean(path), nil
}

// NewFileUpdate builds a fileUpdate frame for path.
func NewFileUpdate(path, content, diff, original, modified, errMsg string) *FileUpdate {
	return &FileUpdate{
		Type:            MessageTypeFileUpdate,
		AbsolutePath:    path,
		Filename:        filepath.Base(path),
		Content:         content,
		Diff:            diff,
		OriginalContent: original,
		ModifiedContent: modified,
		Error:           errMsg,
	}
}

// NewFileRemoved builds a fileRemoved frame for path.
func NewFileRemoved(path string) *FileRemoved {
	return &FileRemoved{Type: MessageTypeFileRemoved, AbsolutePath: path}
}

// Encode marshals a server frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
