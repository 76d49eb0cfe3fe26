package xclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"prodscout/internal/domain/entity"
)

// createdAtLayout is the timestamp format used by the timeline payload.
const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Media is one attachment on a tweet.
type Media struct {
	Type string // photo, video, gif
	URL  string
	Alt  string
}

// Tweet is the microblog-specific record produced by the timeline parser.
// It lives only inside the scraper call and is projected into an
// entity.Post on egress.
type Tweet struct {
	ID          string
	UserID      string
	Username    string
	DisplayName string

	// Text is the full text, with long-form "note tweet" content expanded
	// in preference over the truncated legacy text.
	Text      string
	CreatedAt time.Time

	ReplyCount    int
	RetweetCount  int
	LikeCount     int
	ViewCount     int
	BookmarkCount int
	QuoteCount    int

	URLs  []string
	Media []Media

	IsRetweet   bool
	IsQuote     bool
	QuotedTweet *Tweet

	InReplyToID     string
	InReplyToUserID string
	ConversationID  string
}

// ToPost projects the tweet into a pipeline Post. ExtraURLs starts from
// the tweet's external URLs plus the quoted tweet's, deduplicated.
func (t *Tweet) ToPost(sourceName string) *entity.Post {
	post := &entity.Post{
		Title:      tweetTitle(t.Text),
		Date:       t.CreatedAt.Format("2006-01-02"),
		Link:       fmt.Sprintf("https://x.com/%s/status/%s", t.Username, t.ID),
		SourceType: entity.SourceMicroblog,
		SourceName: sourceName,
		Content:    t.Text,
	}
	for _, u := range t.URLs {
		post.AddExtraURL(u)
	}
	if t.QuotedTweet != nil {
		post.Content += "\n\n[Quoted] @" + t.QuotedTweet.Username + ": " + t.QuotedTweet.Text
		for _, u := range t.QuotedTweet.URLs {
			post.AddExtraURL(u)
		}
	}
	return post
}

// tweetTitle derives a short title from the first line of the text.
func tweetTitle(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return string(runes)
}

// Wire types for the GraphQL timeline payload. Only the traversed subset
// is declared.

type timelineResponse struct {
	User struct {
		Result struct {
			TimelineV2 struct {
				Timeline struct {
					Instructions []timelineInstruction `json:"instructions"`
				} `json:"timeline"`
			} `json:"timeline_v2"`
		} `json:"result"`
	} `json:"user"`
}

type timelineInstruction struct {
	Type    string          `json:"type"`
	Entry   *timelineEntry  `json:"entry"`   // TimelinePinEntry
	Entries []timelineEntry `json:"entries"` // TimelineAddEntries
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string       `json:"entryType"`
		ItemContent *itemContent `json:"itemContent"`
		CursorType  string       `json:"cursorType"`
		Value       string       `json:"value"`
	} `json:"content"`
}

type itemContent struct {
	ItemType     string       `json:"itemType"`
	TweetResults tweetResults `json:"tweet_results"`
}

type tweetResults struct {
	Result *tweetResult `json:"result"`
}

type tweetResult struct {
	Typename string `json:"__typename"`
	RestID   string `json:"rest_id"`

	// TweetWithVisibilityResults wraps the actual tweet one level down.
	Tweet *tweetResult `json:"tweet"`

	Core *struct {
		UserResults struct {
			Result struct {
				RestID string `json:"rest_id"`
				Legacy struct {
					ScreenName string `json:"screen_name"`
					Name       string `json:"name"`
				} `json:"legacy"`
			} `json:"result"`
		} `json:"user_results"`
	} `json:"core"`

	NoteTweet *struct {
		NoteTweetResults struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`

	Views struct {
		Count string `json:"count"`
	} `json:"views"`

	QuotedStatusResult *tweetResults `json:"quoted_status_result"`

	Legacy *tweetLegacy `json:"legacy"`
}

type tweetLegacy struct {
	FullText             string `json:"full_text"`
	CreatedAt            string `json:"created_at"`
	ReplyCount           int    `json:"reply_count"`
	RetweetCount         int    `json:"retweet_count"`
	FavoriteCount        int    `json:"favorite_count"`
	BookmarkCount        int    `json:"bookmark_count"`
	QuoteCount           int    `json:"quote_count"`
	IsQuoteStatus        bool   `json:"is_quote_status"`
	ConversationIDStr    string `json:"conversation_id_str"`
	InReplyToStatusIDStr string `json:"in_reply_to_status_id_str"`
	InReplyToUserIDStr   string `json:"in_reply_to_user_id_str"`

	RetweetedStatusResult *tweetResults `json:"retweeted_status_result"`

	Entities struct {
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`

	ExtendedEntities struct {
		Media []struct {
			Type          string `json:"type"`
			MediaURLHTTPS string `json:"media_url_https"`
			ExtAltText    string `json:"ext_alt_text"`
		} `json:"media"`
	} `json:"extended_entities"`
}

// ParseTimeline extracts tweets and the bottom pagination cursor from a
// UserTweets response. Pinned tweets may also appear in the main feed, so
// tweets are deduplicated by id across both instruction kinds. An empty
// cursor signals the end of pagination. Parsing is pure: the same page
// always yields the same (tweets, cursor).
func ParseTimeline(data json.RawMessage) ([]*Tweet, string, error) {
	var resp timelineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, "", fmt.Errorf("decode timeline: %w", err)
	}

	var tweets []*Tweet
	var nextCursor string
	seen := make(map[string]bool)

	appendTweet := func(result *tweetResult) {
		tweet := parseTweetResult(result)
		if tweet == nil || seen[tweet.ID] {
			return
		}
		seen[tweet.ID] = true
		tweets = append(tweets, tweet)
	}

	for _, inst := range resp.User.Result.TimelineV2.Timeline.Instructions {
		switch inst.Type {
		case "TimelinePinEntry":
			if inst.Entry != nil && inst.Entry.Content.ItemContent != nil {
				appendTweet(inst.Entry.Content.ItemContent.TweetResults.Result)
			}
		case "TimelineAddEntries":
			for _, entry := range inst.Entries {
				switch {
				case entry.Content.EntryType == "TimelineTimelineCursor" && entry.Content.CursorType == "Bottom":
					nextCursor = entry.Content.Value
				case entry.Content.ItemContent != nil:
					appendTweet(entry.Content.ItemContent.TweetResults.Result)
				}
			}
		}
	}

	return tweets, nextCursor, nil
}

// parseTweetResult converts one tweet_results.result node into a Tweet.
// Returns nil for tombstones and nodes without legacy data.
func parseTweetResult(result *tweetResult) *Tweet {
	if result == nil {
		return nil
	}
	// Limited-visibility tweets nest the real payload one level down.
	if result.Tweet != nil {
		result = result.Tweet
	}
	if result.Legacy == nil || result.RestID == "" {
		return nil
	}

	legacy := result.Legacy
	tweet := &Tweet{
		ID:              result.RestID,
		Text:            legacy.FullText,
		ReplyCount:      legacy.ReplyCount,
		RetweetCount:    legacy.RetweetCount,
		LikeCount:       legacy.FavoriteCount,
		BookmarkCount:   legacy.BookmarkCount,
		QuoteCount:      legacy.QuoteCount,
		IsRetweet:       legacy.RetweetedStatusResult != nil,
		IsQuote:         legacy.IsQuoteStatus,
		ConversationID:  legacy.ConversationIDStr,
		InReplyToID:     legacy.InReplyToStatusIDStr,
		InReplyToUserID: legacy.InReplyToUserIDStr,
	}

	// Long-form content wins over the truncated legacy text.
	if result.NoteTweet != nil && result.NoteTweet.NoteTweetResults.Result.Text != "" {
		tweet.Text = result.NoteTweet.NoteTweetResults.Result.Text
	}

	if result.Core != nil {
		tweet.UserID = result.Core.UserResults.Result.RestID
		tweet.Username = result.Core.UserResults.Result.Legacy.ScreenName
		tweet.DisplayName = result.Core.UserResults.Result.Legacy.Name
	}

	if ts, err := time.Parse(createdAtLayout, legacy.CreatedAt); err == nil {
		tweet.CreatedAt = ts.UTC()
	} else {
		slog.Warn("unparseable tweet timestamp",
			slog.String("tweet_id", tweet.ID),
			slog.String("created_at", legacy.CreatedAt))
	}

	if n, err := strconv.Atoi(result.Views.Count); err == nil {
		tweet.ViewCount = n
	}

	for _, u := range legacy.Entities.URLs {
		if u.ExpandedURL != "" {
			tweet.URLs = append(tweet.URLs, u.ExpandedURL)
		}
	}

	for _, m := range legacy.ExtendedEntities.Media {
		tweet.Media = append(tweet.Media, Media{
			Type: m.Type,
			URL:  m.MediaURLHTTPS,
			Alt:  m.ExtAltText,
		})
	}

	if result.QuotedStatusResult != nil {
		tweet.QuotedTweet = parseTweetResult(result.QuotedStatusResult.Result)
	}

	return tweet
}
