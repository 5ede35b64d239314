package email

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// messageFromBuffer maps a fetched message onto model.Message. Starred and
// Favorited are left for the overlay to decide.
func messageFromBuffer(folder string, buf *imapclient.FetchMessageBuffer, body []byte) model.Message {
	uid := strconv.FormatUint(uint64(buf.UID), 10)
	msg := model.Message{
		ID:     model.NewMessageID(model.OriginIMAP, folder, uid),
		Folder: folder,
		UID:    uid,
		Size:   buf.RFC822Size,
	}

	if env := buf.Envelope; env != nil {
		msg.MessageID = env.MessageID
		msg.Subject = env.Subject
		msg.Date = env.Date

		if len(env.From) > 0 {
			from := env.From[0]
			if from.Name != "" {
				msg.From = from.Name + " <" + from.Addr() + ">"
			} else {
				msg.From = from.Addr()
			}
		}
		msg.To = addressList(env.To)
		msg.Cc = addressList(env.Cc)
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			msg.Flags.Seen = true
		case imap.FlagAnswered:
			msg.Flags.Answered = true
		case imap.FlagFlagged:
			msg.Flags.Flagged = true
		case favoriteKeyword:
			msg.Flags.Favorited = true
		}
	}

	if body != nil {
		msg.TextBody, msg.HTMLBody, msg.Attachments = ParseBody(body)
	}

	return msg
}

func addressList(addrs []imap.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}

// ParseBody parses a raw RFC 5322 message using go-message and
// extracts the text/plain body, text/html body, and attachment metadata.
// An HTML-only message gets a stripped plain-text rendering.
func ParseBody(raw []byte) (
	textBody string, htmlBody string, attachments []model.Attachment,
) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME; treat the whole thing as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			n, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, model.Attachment{
				Filename: filename,
				Size:     n,
				MIMEType: contentType,
			})
		}
	}

	if textBody == "" && htmlBody != "" {
		textBody = stripHTML(htmlBody)
	}
	return textBody, htmlBody, attachments
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}

// folderFromList maps a LIST response onto model.Folder.
func folderFromList(data *imap.ListData) model.Folder {
	f := model.Folder{
		Name:  data.Mailbox,
		Label: data.Mailbox,
	}
	if data.Delim != 0 {
		if i := strings.LastIndex(data.Mailbox, string(data.Delim)); i >= 0 && i < len(data.Mailbox)-1 {
			f.Label = data.Mailbox[i+1:]
		}
	}
	for _, attr := range data.Attrs {
		f.Attributes = append(f.Attributes, string(attr))
	}
	if data.Status != nil && data.Status.NumMessages != nil {
		f.Count = int(*data.Status.NumMessages)
	}
	return f
}

// selectable reports whether a folder can be opened.
func selectable(f model.Folder) bool {
	return !f.HasAttribute(string(imap.MailboxAttrNoSelect)) &&
		!f.HasAttribute(string(imap.MailboxAttrNonExistent))
}
