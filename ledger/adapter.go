package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// GroupEvent is the subset of a OneBot v11 message event the ledger reads.
type GroupEvent struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	GroupID     json.Number     `json:"group_id"`
	RawMessage  string          `json:"raw_message"`
	Message     json.RawMessage `json:"message"`
	Time        int64           `json:"time"`
}

type messageSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Text renders the event in outline form: mentions become [At:qq] and replies
// become [引用消息(id)], which NormalizeContent strips later.
func (e GroupEvent) Text() string {
	if len(e.Message) > 0 {
		var s string
		if err := json.Unmarshal(e.Message, &s); err == nil && s != "" {
			return renderCQ(s)
		}
		var segs []messageSegment
		if err := json.Unmarshal(e.Message, &segs); err == nil && len(segs) > 0 {
			return renderSegments(segs)
		}
	}
	return renderCQ(e.RawMessage)
}

func renderSegments(segs []messageSegment) string {
	var b strings.Builder
	for _, seg := range segs {
		switch seg.Type {
		case "text":
			b.WriteString(seg.Data["text"])
		case "at":
			b.WriteString("[At:" + seg.Data["qq"] + "]")
		case "reply":
			b.WriteString("[引用消息(" + seg.Data["id"] + ")]")
		}
	}
	return b.String()
}

var (
	cqCodePattern = regexp.MustCompile(`\[CQ:([a-zA-Z_]+)((?:,[^\]]*)?)\]`)
	cqUnescaper   = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")
)

// renderCQ rewrites CQ codes into outline form and drops media codes.
func renderCQ(raw string) string {
	out := cqCodePattern.ReplaceAllStringFunc(raw, func(code string) string {
		m := cqCodePattern.FindStringSubmatch(code)
		params := map[string]string{}
		for _, kv := range strings.Split(strings.TrimPrefix(m[2], ","), ",") {
			if k, v, ok := strings.Cut(kv, "="); ok {
				params[k] = cqUnescaper.Replace(v)
			}
		}
		switch m[1] {
		case "at":
			return "[At:" + params["qq"] + "]"
		case "reply":
			return "[引用消息(" + params["id"] + ")]"
		default:
			return ""
		}
	})
	return cqUnescaper.Replace(out)
}

// DecodeEvents accepts a single event, a JSON array of events, or one event per line.
func DecodeEvents(data []byte) ([]GroupEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var events []GroupEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return events, nil
	}
	var events []GroupEvent
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var ev GroupEvent
		err := dec.Decode(&ev)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
}

// EventFilter keeps group message events from allowed groups. An empty
// allow-list admits every group.
type EventFilter struct {
	allow map[string]struct{}
}

func NewEventFilter(groups []string) *EventFilter {
	f := &EventFilter{allow: map[string]struct{}{}}
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			f.allow[g] = struct{}{}
		}
	}
	return f
}

func (f *EventFilter) Allowed(groupID string) bool {
	if groupID == "" {
		return false
	}
	if len(f.allow) == 0 {
		return true
	}
	_, ok := f.allow[groupID]
	return ok
}

func (f *EventFilter) Accept(ev GroupEvent) (Message, bool) {
	if ev.PostType != "message" || ev.MessageType != "group" {
		return Message{}, false
	}
	groupID := ev.GroupID.String()
	if !f.Allowed(groupID) {
		return Message{}, false
	}
	text := ev.Text()
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}
	msg := Message{Text: text, SourceGroupID: groupID}
	if ev.Time > 0 {
		msg.ObservedAt = time.Unix(ev.Time, 0).UTC()
	}
	return msg, true
}

// Messages filters events down to the messages worth ingesting.
func (f *EventFilter) Messages(events []GroupEvent) []Message {
	out := make([]Message, 0, len(events))
	for _, ev := range events {
		if msg, ok := f.Accept(ev); ok {
			out = append(out, msg)
		}
	}
	return out
}
