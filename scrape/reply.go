package scrape

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"sa-tail/pkg/forum"
)

// ReplyParams are the anti-forgery tokens scraped from a compose-reply
// page. They may be single-use or time-limited, so fetch them fresh
// immediately before each submission.
type ReplyParams struct {
	Action     string
	ThreadID   string
	FormKey    string
	FormCookie string
}

// ParseReplyParams extracts the reply tokens from a compose page. Any
// missing token aborts reply preparation with a ReplyParseError.
func ParseReplyParams(page []byte) (ReplyParams, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ReplyParams{}, fmt.Errorf("parse compose html: %w", err)
	}

	form := doc.Find("form[name=vbform]").First()
	if form.Length() == 0 {
		return ReplyParams{}, &ReplyParseError{Field: "form vbform"}
	}

	hidden := func(name string) (string, error) {
		input := form.Find("input[name=" + name + "]").First()
		if input.Length() == 0 {
			return "", &ReplyParseError{Field: name}
		}
		value, ok := input.Attr("value")
		if !ok {
			return "", &ReplyParseError{Field: name}
		}
		return value, nil
	}

	action, err := hidden("action")
	if err != nil {
		return ReplyParams{}, err
	}
	threadID, err := hidden("threadid")
	if err != nil {
		return ReplyParams{}, err
	}
	formKey, err := hidden("formkey")
	if err != nil {
		return ReplyParams{}, err
	}
	formCookie, err := hidden("form_cookie")
	if err != nil {
		return ReplyParams{}, err
	}

	return ReplyParams{
		Action:     action,
		ThreadID:   threadID,
		FormKey:    formKey,
		FormCookie: formCookie,
	}, nil
}

// Form combines the scraped tokens with a reply into the submittable
// payload. The four tokens are echoed verbatim; the attachment part stays
// present but empty when the reply has none, matching the form's
// required-field expectations.
func (p ReplyParams) Form(reply forum.Reply) forum.ReplyForm {
	bookmark := "no"
	if reply.Bookmark {
		bookmark = "yes"
	}

	form := forum.ReplyForm{
		Fields: map[string]string{
			"action":      p.Action,
			"threadid":    p.ThreadID,
			"formkey":     p.FormKey,
			"form_cookie": p.FormCookie,
			"message":     reply.Message,
			"bookmark":    bookmark,
			"submit":      "Submit Reply",
		},
	}
	if reply.Attachment != nil {
		form.AttachmentFilename = reply.Attachment.Filename
		form.AttachmentContent = reply.Attachment.Content
	}
	return form
}
