package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// IMAPClient wraps go-imap v2 for reading message identity and content
// from the mailbox. It is the bridge between the mail client's view of a
// conversation and the thread resolver's ordered message-id list.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
}

// NewIMAPClient creates a new IMAP client configuration. An empty mailbox
// defaults to INBOX.
func NewIMAPClient(
	host, port, username, password string, tls bool, mailbox string,
) *IMAPClient {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		mailbox:  mailbox,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and selects the configured mailbox. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPClient) Connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf(
			"authenticating %s against %s: %w", c.username, addr, err,
		)
	}

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	return client, nil
}

// FetchThreadIDs fetches only the identity headers of a message and
// returns its conversation's ordered, root-first message identities.
func (c *IMAPClient) FetchThreadIDs(
	ctx context.Context, uid uint32,
) ([]string, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	headerSection := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{headerSection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	raw := buf.FindBodySection(headerSection)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no header section", uid)
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing headers of UID %d: %w", uid, err)
	}

	thread := ThreadIdentity(
		entity.Header.Get("Message-Id"),
		entity.Header.Get("References"),
		entity.Header.Get("In-Reply-To"),
	)

	if err := fetchCmd.Close(); err != nil {
		return thread, fmt.Errorf("closing fetch: %w", err)
	}

	return thread, nil
}

// FetchMessage fetches the full message for the given UID and parses it
// into a ParsedMessage, including the thread identity needed by the
// resolver and the bodies needed to seed an issue payload.
func (c *IMAPClient) FetchMessage(
	ctx context.Context, uid uint32,
) (*ParsedMessage, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	parsed := &ParsedMessage{
		Envelope: envelopeFromBuffer(buf),
	}

	rawBody := buf.FindBodySection(bodySection)
	if rawBody != nil {
		fillFromRawMessage(parsed, rawBody)
	}

	if err := fetchCmd.Close(); err != nil {
		return parsed, fmt.Errorf("closing fetch: %w", err)
	}

	return parsed, nil
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = ParseMessageID(buf.Envelope.MessageID)
		if env.MessageID == "" {
			env.MessageID = buf.Envelope.MessageID
		}
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = from.Name
			} else {
				env.From = from.Addr()
			}
		}

		for _, to := range buf.Envelope.To {
			env.To = append(env.To, to.Addr())
		}
	}

	return env
}

// fillFromRawMessage parses a raw RFC 2822 message using go-message and
// fills in the thread identity, text/HTML bodies, and attachment
// metadata.
func fillFromRawMessage(parsed *ParsedMessage, raw []byte) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text; the
		// thread identity then falls back to the envelope message id.
		parsed.TextBody = string(raw)
		parsed.ThreadIDs = ThreadIdentity(parsed.Envelope.MessageID, "", "")
		return
	}
	defer mr.Close()

	messageID := mr.Header.Get("Message-Id")
	if ParseMessageID(messageID) == "" {
		messageID = parsed.Envelope.MessageID
	}
	parsed.ThreadIDs = ThreadIdentity(
		messageID,
		mr.Header.Get("References"),
		mr.Header.Get("In-Reply-To"),
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				parsed.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				parsed.HTMLBody = string(body)
			}

		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			// Read to get size without storing content.
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			parsed.Attachments = append(parsed.Attachments, Attachment{
				Filename: filename,
				Size:     int64(len(body)),
				MIMEType: contentType,
			})
		}
	}
}
