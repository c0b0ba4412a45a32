package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

type youtubeItem struct {
	Title     string            `json:"title"`
	TitleURL  string            `json:"titleUrl"`
	Time      string            `json:"time"`
	Subtitles []youtubeSubtitle `json:"subtitles"`
}

type youtubeSubtitle struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&?/]+)`),
	regexp.MustCompile(`youtube\.com/embed/([^&?/]+)`),
	regexp.MustCompile(`youtube\.com/v/([^&?/]+)`),
}

// YouTubeExtractor reads Google Takeout's YouTube watch-history export: a
// flat list of watch events, each becoming a single user-role message.
type YouTubeExtractor struct{}

func NewYouTubeExtractor() *YouTubeExtractor { return &YouTubeExtractor{} }

func (e *YouTubeExtractor) Name() string    { return "youtube" }
func (e *YouTubeExtractor) Version() string { return "1.0.0" }

func (e *YouTubeExtractor) Metadata() Metadata {
	return Metadata{
		Name:       "YouTube",
		Version:    e.Version(),
		Extensions: []string{".json"},
		AutoDetect: true,
		Streaming:  false,
		FileBased:  false,
		FormatSpec: "list of watch history items with title, titleUrl, time, and optional subtitles",
	}
}

func (e *YouTubeExtractor) Detect(raw json.RawMessage) (bool, int) {
	return looksLikeYouTube(raw), 80
}

// ExtractFromBytes treats the whole archive as a single synthetic
// conversation: one watch-history session per upload.
func (e *YouTubeExtractor) ExtractFromBytes(ctx context.Context, raw json.RawMessage, opts Options) ([]ExtractedConversation, error) {
	var items []youtubeItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("youtube: decode: %w", err)
	}

	messages := extractYouTubeMessages(items, opts)
	if len(messages) == 0 {
		return nil, nil
	}

	ec := ExtractedConversation{
		Title:    "YouTube watch history",
		Source:   scrytype.SourceYouTube,
		Messages: messages,
	}
	ec.CreatedAt = messages[0].CreatedAt
	ec.UpdatedAt = messages[len(messages)-1].CreatedAt
	return []ExtractedConversation{ec}, nil
}

func (e *YouTubeExtractor) ExtractFromFile(ctx context.Context, path, filename string, opts Options) ([]ExtractedConversation, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("youtube: read %s: %w", path, err)
	}
	convs, err := e.ExtractFromBytes(ctx, raw, opts)
	return convs, filename, err
}

func extractYouTubeMessages(items []youtubeItem, opts Options) []ExtractedMessage {
	var messages []ExtractedMessage
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" || item.TitleURL == "" {
			continue
		}
		videoID := extractYouTubeVideoID(item.TitleURL)
		if videoID == "" {
			continue
		}
		createdAt, ok := parseYouTubeTime(item.Time)
		if !ok {
			continue
		}

		var channelName, channelURL string
		if len(item.Subtitles) > 0 {
			channelName = item.Subtitles[0].Name
			channelURL = item.Subtitles[0].URL
		}

		parts := []string{fmt.Sprintf("Watched: %s", title)}
		if opts.IncludeChannel && channelName != "" {
			parts = append(parts, fmt.Sprintf("by %s", channelName))
		}

		extra := map[string]any{
			"video_id":          videoID,
			"video_url":         item.TitleURL,
			"transcript_status": "pending",
			"transcript":        nil,
			"summary":           nil,
		}
		if channelName != "" {
			extra["channel_name"] = channelName
		}
		if channelURL != "" {
			extra["channel_url"] = channelURL
		}

		messages = append(messages, ExtractedMessage{
			Role:      scrytype.RoleUser,
			Content:   strings.Join(parts, " "),
			CreatedAt: createdAt,
			HasTime:   true,
			Extra:     extra,
		})
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if opts.GroupByDay {
		messages = groupYouTubeMessagesByDay(messages)
	}
	return messages
}

// groupYouTubeMessagesByDay merges every watch event from the same calendar
// day (UTC) into a single message, one content line per video, keeping the
// day's first CreatedAt and collecting each video's id under the grouped
// message's Extra. Input must already be sorted by CreatedAt.
func groupYouTubeMessagesByDay(messages []ExtractedMessage) []ExtractedMessage {
	grouped := make([]ExtractedMessage, 0, len(messages))

	var lines []string
	var videoIDs []string
	var dayStart time.Time
	var currentDay string

	flush := func() {
		if len(lines) == 0 {
			return
		}
		grouped = append(grouped, ExtractedMessage{
			Role:      scrytype.RoleUser,
			Content:   strings.Join(lines, "\n"),
			CreatedAt: dayStart,
			HasTime:   true,
			Extra: map[string]any{
				"video_ids":         videoIDs,
				"transcript_status": "pending",
			},
		})
		lines = nil
		videoIDs = nil
	}

	for _, m := range messages {
		day := m.CreatedAt.Format("2006-01-02")
		if day != currentDay {
			flush()
			currentDay = day
			dayStart = m.CreatedAt
		}
		lines = append(lines, m.Content)
		if videoID, ok := m.Extra["video_id"].(string); ok {
			videoIDs = append(videoIDs, videoID)
		}
	}
	flush()

	return grouped
}

func extractYouTubeVideoID(url string) string {
	for _, re := range youtubeIDPatterns {
		if m := re.FindStringSubmatch(url); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

func parseYouTubeTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
