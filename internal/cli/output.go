package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
	errW   io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout, errW: os.Stderr}
}

// newOutputTo writes both streams to w
func newOutputTo(format string, w io.Writer) *Output {
	return &Output{format: format, w: w, errW: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		_, _ = fmt.Fprintln(o.errW, string(data))
	} else {
		_, _ = fmt.Fprintf(o.errW, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case HealthResult:
		o.printHealthResult(v)
	case Leaderboard:
		o.printLeaderboard(v)
	case PlayerStats:
		o.printPlayerStats(v)
	case Achievements:
		o.printAchievements(v)
	case Energy:
		o.printEnergy(v)
	case TokenResult:
		o.printTokenResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// HealthResult response type
type HealthResult struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}

// LeaderboardEntry response type
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Level       int    `json:"level"`
}

// Leaderboard response type
type Leaderboard struct {
	Entries  []LeaderboardEntry `json:"entries"`
	CachedAt time.Time          `json:"cached_at"`
	Stale    bool               `json:"stale"`
}

// PlayerStats response type
type PlayerStats struct {
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	BestScore     int        `json:"best_score"`
	BestScoreAt   *time.Time `json:"best_score_at,omitempty"`
	Level         int        `json:"level"`
	TotalGames    int        `json:"total_games"`
	TotalPlayTime int        `json:"total_play_time"`
	CurrentStreak int        `json:"current_streak"`
	MaxStreak     int        `json:"max_streak"`
	BestTime      *int       `json:"best_time"`
	Achievements  []string   `json:"achievements"`
}

// Achievement response type
type Achievement struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Unlocked    bool    `json:"unlocked"`
	Progress    float64 `json:"progress"`
}

// Achievements response type
type Achievements struct {
	Username     string        `json:"username"`
	Unlocked     int           `json:"unlocked"`
	Total        int           `json:"total"`
	Achievements []Achievement `json:"achievements"`
}

// Energy response type
type Energy struct {
	Amount               int `json:"amount"`
	Cap                  int `json:"cap"`
	SecondsUntilNextUnit int `json:"seconds_until_next_unit"`
}

// TokenResult is printed by the token command
type TokenResult struct {
	Username string    `json:"username"`
	Token    string    `json:"token"`
	Expires  time.Time `json:"expires"`
	Saved    string    `json:"saved,omitempty"`
}

func (o *Output) printHealthResult(h HealthResult) {
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	_, _ = fmt.Fprintf(o.w, "Store: %s\n", h.Store)
	_, _ = fmt.Fprintf(o.w, "Sessions: %d\n", h.Sessions)
}

func (o *Output) printLeaderboard(l Leaderboard) {
	if len(l.Entries) == 0 {
		_, _ = fmt.Fprintln(o.w, "No scores yet")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tPLAYER\tSCORE\tLEVEL")
	for i, e := range l.Entries {
		rank := e.Rank
		if rank == 0 {
			rank = i + 1
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", rank, displayName(e.DisplayName, e.Username), e.Score, e.Level)
	}
	_ = tw.Flush()
	if l.Stale {
		_, _ = fmt.Fprintf(o.w, "(stale, cached at %s)\n", l.CachedAt.Format(time.RFC3339))
	}
}

func (o *Output) printPlayerStats(s PlayerStats) {
	_, _ = fmt.Fprintf(o.w, "Player: %s (%s)\n", displayName(s.DisplayName, s.Username), s.Username)
	_, _ = fmt.Fprintf(o.w, "Best Score: %d\n", s.BestScore)
	_, _ = fmt.Fprintf(o.w, "Level: %d\n", s.Level)
	_, _ = fmt.Fprintf(o.w, "Games: %d\n", s.TotalGames)
	_, _ = fmt.Fprintf(o.w, "Play Time: %s\n", time.Duration(s.TotalPlayTime)*time.Second)
	_, _ = fmt.Fprintf(o.w, "Streak: %d (best %d)\n", s.CurrentStreak, s.MaxStreak)
	if s.BestTime != nil {
		_, _ = fmt.Fprintf(o.w, "Best Time: %ds\n", *s.BestTime)
	}
	if len(s.Achievements) > 0 {
		_, _ = fmt.Fprintf(o.w, "Achievements: %s\n", strings.Join(s.Achievements, ", "))
	}
}

func (o *Output) printAchievements(a Achievements) {
	_, _ = fmt.Fprintf(o.w, "Achievements for %s: %d/%d\n", a.Username, a.Unlocked, a.Total)
	for _, ach := range a.Achievements {
		mark := " "
		if ach.Unlocked {
			mark = "x"
		}
		_, _ = fmt.Fprintf(o.w, "  [%s] %-14s %3.0f%%  %s\n", mark, ach.Name, ach.Progress*100, ach.Description)
	}
}

func (o *Output) printEnergy(e Energy) {
	_, _ = fmt.Fprintf(o.w, "Energy: %d/%d\n", e.Amount, e.Cap)
	if e.Amount < e.Cap {
		_, _ = fmt.Fprintf(o.w, "Next unit in: %ds\n", e.SecondsUntilNextUnit)
	}
}

func (o *Output) printTokenResult(t TokenResult) {
	_, _ = fmt.Fprintf(o.w, "Token for %s (expires %s)\n", t.Username, t.Expires.Format(time.RFC3339))
	_, _ = fmt.Fprintln(o.w, t.Token)
	if t.Saved != "" {
		_, _ = fmt.Fprintf(o.w, "Saved to %s\n", t.Saved)
	}
}

func displayName(name, username string) string {
	if name == "" {
		return username
	}
	return name
}
