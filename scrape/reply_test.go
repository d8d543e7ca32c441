package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sa-tail/pkg/forum"
)

const composePage = `<html><body>
<form name="vbform" action="newreply.php" method="post" enctype="multipart/form-data">
	<input type="hidden" name="action" value="postreply">
	<input type="hidden" name="threadid" value="3960123">
	<input type="hidden" name="formkey" value="abcdef0123456789">
	<input type="hidden" name="form_cookie" value="feedbeef">
	<textarea name="message"></textarea>
</form>
</body></html>`

func TestParseReplyParams(t *testing.T) {
	params, err := ParseReplyParams([]byte(composePage))
	require.NoError(t, err)
	assert.Equal(t, ReplyParams{
		Action:     "postreply",
		ThreadID:   "3960123",
		FormKey:    "abcdef0123456789",
		FormCookie: "feedbeef",
	}, params)
}

func TestParseReplyParamsMissingToken(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		field string
	}{
		{
			name:  "no form at all",
			page:  `<html><body><p>log in first</p></body></html>`,
			field: "form vbform",
		},
		{
			name: "missing formkey",
			page: `<html><body><form name="vbform">
				<input type="hidden" name="action" value="postreply">
				<input type="hidden" name="threadid" value="1">
				<input type="hidden" name="form_cookie" value="x">
			</form></body></html>`,
			field: "formkey",
		},
		{
			name: "formkey without value",
			page: `<html><body><form name="vbform">
				<input type="hidden" name="action" value="postreply">
				<input type="hidden" name="threadid" value="1">
				<input type="hidden" name="formkey">
				<input type="hidden" name="form_cookie" value="x">
			</form></body></html>`,
			field: "formkey",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReplyParams([]byte(tt.page))

			var parseErr *ReplyParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.field, parseErr.Field)
		})
	}
}

func TestReplyParamsForm(t *testing.T) {
	params := ReplyParams{
		Action:     "postreply",
		ThreadID:   "3960123",
		FormKey:    "key",
		FormCookie: "cookie",
	}

	form := params.Form(forum.NewReply("hello thread"))
	assert.Equal(t, map[string]string{
		"action":      "postreply",
		"threadid":    "3960123",
		"formkey":     "key",
		"form_cookie": "cookie",
		"message":     "hello thread",
		"bookmark":    "yes",
		"submit":      "Submit Reply",
	}, form.Fields)
	assert.Empty(t, form.AttachmentFilename)
	assert.Empty(t, form.AttachmentContent)
}

func TestReplyParamsFormOptions(t *testing.T) {
	params := ReplyParams{Action: "postreply", ThreadID: "1", FormKey: "k", FormCookie: "c"}

	reply := forum.NewReply("with extras").
		WithBookmark(false).
		WithAttachment("cat.png", []byte{0x89, 0x50})
	form := params.Form(reply)

	assert.Equal(t, "no", form.Fields["bookmark"])
	assert.Equal(t, "cat.png", form.AttachmentFilename)
	assert.Equal(t, []byte{0x89, 0x50}, form.AttachmentContent)
}
