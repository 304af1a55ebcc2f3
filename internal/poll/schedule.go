// Package poll は週次テーマ投票のライフサイクルを管理する。
//
// 状態は open → closed_pending_tally → announced の一方向にのみ遷移する。
// 遷移はユーザー操作ではなく時刻駆動のTickで実行し、Tickは同時に1つしか走らない。
package poll

import (
	"fmt"
	"strings"
	"time"
)

// Schedule は週次サイクルの開始時刻と投票期間を表す。
type Schedule struct {
	Weekday  time.Weekday
	Hour     int
	Window   time.Duration
	Location *time.Location
}

// CycleStart はnow以前で最も新しいサイクル開始時刻を返す。
func (s Schedule) CycleStart(now time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, 0, 0, 0, loc)

	delta := (int(t.Weekday()) - int(s.Weekday) + 7) % 7
	start = start.AddDate(0, 0, -delta)
	if start.After(t) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// ClosesAt はサイクル開始時刻に対する締め切り時刻を返す。
func (s Schedule) ClosesAt(opensAt time.Time) time.Time {
	return opensAt.Add(s.Window)
}

// InVotingWindow はnowが現在のサイクルの投票期間内かを返す。
func (s Schedule) InVotingWindow(now time.Time) bool {
	return now.Before(s.ClosesAt(s.CycleStart(now)))
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday は曜日名（英語、大文字小文字を区別しない）をtime.Weekdayに変換する。
func ParseWeekday(s string) (time.Weekday, error) {
	w, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("不正な曜日です: %q", s)
	}
	return w, nil
}
