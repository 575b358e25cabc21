// Package analytics summarizes the interaction log.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"bunny-chatter/internal/storage"
)

// DailyStats aggregates one calendar day of interactions.
type DailyStats struct {
	Date           string               `json:"date"`
	TotalMessages  int                  `json:"total_messages"`
	Replies        int                  `json:"replies"`
	Failures       int                  `json:"failures"`
	UniqueUsers    int                  `json:"unique_users"`
	TotalTokens    int                  `json:"total_tokens"`
	RepliesByModel map[string]int       `json:"replies_by_model"`
	UserStats      map[string]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserKey  string `json:"user_key"`
	Messages int    `json:"messages"`
	Failures int    `json:"failures"`
}

// AnalyzeDailyLogs counts the events that fall on targetDate in its location.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:           startOfDay.Format("2006-01-02"),
		RepliesByModel: make(map[string]int),
		UserStats:      make(map[string]UserStats),
	}

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.UserKey == "" {
			continue
		}

		stats.TotalMessages++
		userStat, ok := stats.UserStats[event.UserKey]
		if !ok {
			userStat = UserStats{UserKey: event.UserKey}
		}
		userStat.Messages++

		if event.Failed {
			stats.Failures++
			userStat.Failures++
		} else {
			stats.Replies++
			stats.TotalTokens += event.TotalTokens
			model := event.Model
			if model == "" {
				model = "unknown"
			}
			stats.RepliesByModel[model]++
		}
		stats.UserStats[event.UserKey] = userStat
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// GenerateReportSummary renders the stats as a short plain-text digest.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bunny activity for %s\n\n", ds.Date)
	fmt.Fprintf(&b, "Messages: %d (replies %d, failures %d)\n", ds.TotalMessages, ds.Replies, ds.Failures)
	fmt.Fprintf(&b, "Unique users: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "Tokens used: %d\n", ds.TotalTokens)

	if len(ds.RepliesByModel) > 0 {
		b.WriteString("\nReplies by model:\n")
		for _, model := range sortedKeys(ds.RepliesByModel) {
			fmt.Fprintf(&b, "- %s: %d\n", model, ds.RepliesByModel[model])
		}
	}

	if len(ds.UserStats) > 0 {
		users := make([]UserStats, 0, len(ds.UserStats))
		for _, us := range ds.UserStats {
			users = append(users, us)
		}
		sort.Slice(users, func(i, j int) bool {
			if users[i].Messages != users[j].Messages {
				return users[i].Messages > users[j].Messages
			}
			return users[i].UserKey < users[j].UserKey
		})

		b.WriteString("\nMost active users:\n")
		for _, us := range users {
			fmt.Fprintf(&b, "- user %s: %d messages", us.UserKey, us.Messages)
			if us.Failures > 0 {
				fmt.Fprintf(&b, ", %d failed", us.Failures)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ToJSON serializes the stats for detailed inspection.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Digest loads the interaction log and summarizes the given day.
func Digest(rec storage.Recorder, day time.Time) (*DailyStats, error) {
	events, err := rec.LoadInteractions()
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	return AnalyzeDailyLogs(events, day), nil
}
