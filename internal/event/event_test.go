package event

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/mentorlink/internal/model"
)

func TestEvents_TypeIsKnown(t *testing.T) {
	events := []Event{
		MentorshipRequestReceived{RequestID: "r1", MenteeName: "佐藤"},
		MentorshipRequestAccepted{RequestID: "r1", MentorName: "鈴木"},
		MentorshipRequestRejected{RequestID: "r1", MentorName: "鈴木"},
		OfficialMentorRequestReceived{RequestID: "o1", ApplicantName: "高橋"},
		OfficialMentorRequestApproved{RequestID: "o1"},
		OfficialMentorRequestRejected{RequestID: "o1"},
		NewConnection{ConnectionID: "c1", PeerName: "田中"},
		MentorshipEnded{MentorshipID: "m1", PeerName: "田中"},
		RatingReceived{RatingID: "rt1", RaterName: "伊藤", Score: 5},
		RatingRequest{MentorshipID: "m1", PeerName: "田中"},
		SystemAnnouncement{Title: "メンテナンス", Body: "本日深夜に実施します"},
		PollResultAnnouncement{PollID: "p1", PollTitle: "週次", WinnerName: "Go入門"},
	}

	for _, e := range events {
		if !e.Type().Valid() {
			t.Errorf("%T.Type() = %q is not a known notification type", e, e.Type())
		}
		c := e.Content()
		if c.Title == "" || c.Message == "" {
			t.Errorf("%T.Content() has empty title or message: %+v", e, c)
		}
	}
}

func TestMentorshipRequestReceived_Content_IncludesNote(t *testing.T) {
	c := MentorshipRequestReceived{RequestID: "r1", MenteeName: "佐藤", Note: "  よろしくお願いします  "}.Content()

	if !strings.Contains(c.Message, "佐藤さん") {
		t.Errorf("Message = %q, want mentee name", c.Message)
	}
	if !strings.HasSuffix(c.Message, "\nよろしくお願いします") {
		t.Errorf("Message = %q, want trimmed note appended", c.Message)
	}
	if c.ActionRef != "/mentorship/requests/r1" {
		t.Errorf("ActionRef = %q", c.ActionRef)
	}
}

func TestOfficialMentorRequestRejected_Content_NoReasonNoActionRef(t *testing.T) {
	c := OfficialMentorRequestRejected{RequestID: "o1"}.Content()

	if strings.Contains(c.Message, "理由") {
		t.Errorf("理由が空なら理由行を含めないこと: %q", c.Message)
	}
	if c.ActionRef != "" {
		t.Errorf("ActionRef = %q, want empty", c.ActionRef)
	}
}

func TestPollResultAnnouncement_Content(t *testing.T) {
	e := PollResultAnnouncement{
		PollID:      "p1",
		PollTitle:   "10月第2週のテーマ投票",
		WinnerName:  "並行処理入門",
		WinnerCode:  "GO-101",
		ProposedAt:  time.Date(2026, 10, 19, 19, 0, 0, 0, time.UTC),
		Presenter:   "山田",
		WinnerVotes: 10,
		TotalVotes:  25,
	}

	if e.Type() != model.NotificationTypeSystemAnnouncement {
		t.Errorf("Type = %q, want system_announcement", e.Type())
	}
	c := e.Content()
	for _, want := range []string{"並行処理入門", "GO-101", "(10/25票)", "2026-10-19 19:00", "発表者: 山田"} {
		if !strings.Contains(c.Message, want) {
			t.Errorf("Message = %q, want to contain %q", c.Message, want)
		}
	}
	if c.ActionRef != "/polls/p1" {
		t.Errorf("ActionRef = %q, want /polls/p1", c.ActionRef)
	}
}
