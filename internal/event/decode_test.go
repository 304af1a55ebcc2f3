package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hitoshi/mentorlink/internal/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		eventType model.NotificationType
		fields    string
		want      Event
	}{
		{
			"メンタリング申請",
			model.NotificationTypeMentorshipRequestReceived,
			`{"request_id":"r1","mentee_name":"佐藤","note":"よろしくお願いします"}`,
			MentorshipRequestReceived{RequestID: "r1", MenteeName: "佐藤", Note: "よろしくお願いします"},
		},
		{
			"申請の却下（理由なし）",
			model.NotificationTypeMentorshipRequestRejected,
			`{"request_id":"r1","mentor_name":"鈴木"}`,
			MentorshipRequestRejected{RequestID: "r1", MentorName: "鈴木"},
		},
		{
			"公式メンター承認",
			model.NotificationTypeOfficialMentorRequestApproved,
			`{"request_id":"o1"}`,
			OfficialMentorRequestApproved{RequestID: "o1"},
		},
		{
			"評価",
			model.NotificationTypeRatingReceived,
			`{"rating_id":"rt1","rater_name":"伊藤","score":4}`,
			RatingReceived{RatingID: "rt1", RaterName: "伊藤", Score: 4},
		},
		{
			"お知らせ",
			model.NotificationTypeSystemAnnouncement,
			`{"title":"メンテナンス","body":"本日深夜に実施します","action_ref":"/news/1"}`,
			SystemAnnouncement{Title: "メンテナンス", Body: "本日深夜に実施します", ActionRef: "/news/1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.eventType, json.RawMessage(tt.fields))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode = %#v, want %#v", got, tt.want)
			}
			if got.Type() != tt.eventType {
				t.Errorf("Type = %q, want %q", got.Type(), tt.eventType)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		eventType model.NotificationType
		fields    string
		wantErr   error
	}{
		{"未定義の種別", "poll_result", `{}`, ErrUnknownType},
		{"空の種別", "", `{}`, ErrUnknownType},
		{"必須フィールドなし", model.NotificationTypeNewConnection, `{"peer_name":"田中"}`, ErrInvalidFields},
		{"フィールド省略", model.NotificationTypeRatingRequest, ``, ErrInvalidFields},
		{"未知のフィールド", model.NotificationTypeOfficialMentorRequestApproved, `{"request_id":"o1","admin":"x"}`, ErrInvalidFields},
		{"型の不一致", model.NotificationTypeRatingReceived, `{"rating_id":"rt1","rater_name":"伊藤","score":"5"}`, ErrInvalidFields},
		{"オブジェクトでない", model.NotificationTypeMentorshipEnded, `[1,2]`, ErrInvalidFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.eventType, json.RawMessage(tt.fields))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("エラー時はイベントを返さないこと: %#v", got)
			}
		})
	}
}
