// Package forum contains the core domain types for the Something Awful
// forums client.
package forum

// Thread is one row of the bookmarked-threads listing.
type Thread struct {
	ID               string
	Title            string
	AuthorUsername   string
	Replies          int64
	Views            int64
	LastPostDate     string
	LastPostUsername string

	// Unread is zero if there are no unread posts in this thread.
	// Otherwise, the number of unread posts.
	Unread int64
}

// Post is a single post within a thread. Index is the server-assigned
// position of the post, strictly increasing within its thread; it is the
// key the tailer deduplicates on.
type Post struct {
	ID                     string
	Index                  int64
	AuthorUsername         string
	AuthorRegistrationDate string
	PostDate               string

	// Body is the post's inner HTML, verbatim. Rendering it into
	// something readable is the caller's problem.
	Body string
}

// Profile contains all data in a user's public profile. Field names match
// the member.php JSON payload.
type Profile struct {
	UserID      int64   `json:"userid"`
	Username    string  `json:"username"`
	Homepage    string  `json:"homepage"`
	ICQ         string  `json:"icq"`
	AIM         string  `json:"aim"`
	Yahoo       string  `json:"yahoo"`
	Gender      string  `json:"gender"`
	UserTitle   string  `json:"usertitle"`
	JoinDate    int64   `json:"joindate"`
	LastPost    int64   `json:"lastpost"`
	Posts       int64   `json:"posts"`
	ReceivePM   int64   `json:"receivepm"`
	PostsPerDay float64 `json:"postsperday"`
	Role        string  `json:"role"`
	Biography   string  `json:"biography"`
	Location    string  `json:"location"`
	Interests   string  `json:"interests"`
	Occupation  string  `json:"occupation"`
	Picture     string  `json:"picture"`
	AvPath      string  `json:"avpath"`
}

// Attachment is a file uploaded alongside a reply.
type Attachment struct {
	Filename string
	Content  []byte
}

// Reply is an outgoing message. Build one with NewReply.
type Reply struct {
	Message    string
	Bookmark   bool
	Attachment *Attachment
}

// NewReply creates a reply with the given BBCode message. Replying
// bookmarks the thread unless WithBookmark(false) is applied.
func NewReply(message string) Reply {
	return Reply{Message: message, Bookmark: true}
}

// WithBookmark sets whether the reply should subscribe to the thread.
func (r Reply) WithBookmark(bookmark bool) Reply {
	r.Bookmark = bookmark
	return r
}

// WithAttachment sets a post attachment, overriding any existing one.
func (r Reply) WithAttachment(filename string, content []byte) Reply {
	r.Attachment = &Attachment{Filename: filename, Content: content}
	return r
}

// ReplyForm is a reply rendered into the fields of the newreply.php
// multipart payload. The attachment part is always present; an empty
// filename and body stand in when the reply carries no attachment, since
// the server expects the part either way.
type ReplyForm struct {
	Fields             map[string]string
	AttachmentFilename string
	AttachmentContent  []byte
}

// History maps a thread ID to the highest post index already surfaced.
// Entries only ever increase.
type History map[string]int64

// Seen reports whether a post index has already been surfaced for a
// thread. A thread with no entry has no history and nothing is seen.
func (h History) Seen(threadID string, index int64) bool {
	last, ok := h[threadID]
	return ok && last >= index
}

// Mark records a surfaced post index, never decreasing the stored value.
func (h History) Mark(threadID string, index int64) {
	if last, ok := h[threadID]; ok && last >= index {
		return
	}
	h[threadID] = index
}
