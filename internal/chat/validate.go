package chat

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
)

// DefaultMaxContentLength is the message length limit in characters.
const DefaultMaxContentLength = 2000

var deniedContent = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
}

var allowedFileExt = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {},
	"pdf": {}, "txt": {}, "zip": {}, "mp3": {}, "mp4": {},
}

// Post is a message submitted by a connection.
type Post struct {
	Scope       model.Scope
	Content     string
	Type        model.MessageType
	File        *model.FileRef
	IsEncrypted bool
	KeyRef      string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidContent, fmt.Sprintf(format, args...))
}

// validate normalizes p and rejects content that must never be stored.
func (p *Post) validate(maxLen int) error {
	if p.Type == "" {
		p.Type = model.MessageText
	}
	if !p.Type.Valid() || p.Type == model.MessageSystem {
		return invalid("unsupported message type %q", p.Type)
	}
	p.Content = strings.TrimSpace(p.Content)
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	if n := utf8.RuneCountInString(p.Content); n > maxLen {
		return invalid("message exceeds %d characters", maxLen)
	}
	if !utf8.ValidString(p.Content) {
		return invalid("message is not valid UTF-8")
	}

	switch p.Type {
	case model.MessageText:
		if p.Content == "" {
			return invalid("message is empty")
		}
		p.File = nil
	case model.MessageImage, model.MessageFile:
		if p.File == nil || p.File.URL == "" || p.File.Name == "" {
			return invalid("%s message requires a file reference", p.Type)
		}
		if err := validateFile(*p.File); err != nil {
			return err
		}
	}

	for _, re := range deniedContent {
		if re.MatchString(p.Content) {
			return invalid("message contains disallowed markup")
		}
	}
	if p.IsEncrypted && p.KeyRef == "" {
		return invalid("encrypted message requires a key reference")
	}
	return nil
}

func validateFile(f model.FileRef) error {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
	if _, ok := allowedFileExt[ext]; !ok {
		return invalid("file type %q is not allowed", ext)
	}
	for _, re := range deniedContent {
		if re.MatchString(f.URL) || re.MatchString(f.Name) {
			return invalid("file reference contains disallowed markup")
		}
	}
	return nil
}
