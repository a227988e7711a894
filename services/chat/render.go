package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/creatif-sam/ambf-connect/internal/conversation"
	"github.com/creatif-sam/ambf-connect/internal/thread"
)

// renderer печатает только изменения между снимками беседы.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	self    string
	printed map[string]bool
	read    map[string]bool
	online  *bool
	typing  bool
}

func newRenderer(out io.Writer, self string) *renderer {
	return &renderer{out: out, self: self, printed: map[string]bool{}, read: map[string]bool{}}
}

func (r *renderer) Render(s thread.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.online == nil || *r.online != s.Presence.Online {
		online := s.Presence.Online
		r.online = &online
		switch {
		case online:
			fmt.Fprintf(r.out, "* %s is online\n", s.Presence.UserID)
		case s.Presence.LastSeenAt != nil:
			fmt.Fprintf(r.out, "* %s last seen %s\n", s.Presence.UserID, s.Presence.LastSeenAt.Local().Format(time.Kitchen))
		default:
			fmt.Fprintf(r.out, "* %s is offline\n", s.Presence.UserID)
		}
	}

	for _, e := range s.Messages {
		if e.Optimistic {
			continue
		}
		if !r.printed[e.ID] {
			r.printed[e.ID] = true
			who := e.SenderID
			if who == r.self {
				who = "me"
			}
			fmt.Fprintf(r.out, "[%s] %s: %s\n", e.CreatedAt.Local().Format("15:04"), who, e.Content)
		}
		if e.SenderID == r.self && e.ReadAt != nil && !r.read[e.ID] {
			r.read[e.ID] = true
			fmt.Fprintf(r.out, "  ✓ read\n")
		}
	}

	if s.Typing != r.typing {
		r.typing = s.Typing
		if s.Typing {
			fmt.Fprintf(r.out, "* %s is typing...\n", s.Presence.UserID)
		}
	}
}

func printInbox(out io.Writer, convs []conversation.Conversation) error {
	if len(convs) == 0 {
		_, err := fmt.Fprintln(out, "no conversations yet")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WITH\tUNREAD\tLAST\tAT")
	for _, c := range convs {
		name := c.Counterparty.FullName
		if name == "" {
			name = c.Counterparty.ID
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", name, c.UnreadCount, preview(c.LastMessage.Content, 40), c.LastMessage.CreatedAt.Local().Format("Jan 2 15:04"))
	}
	return tw.Flush()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
