// Package event は通知を発生させるドメインイベントを定義する。
//
// 通知種別ごとに専用の構造体を用意し、種別に不要なフィールドを持たせない。
// Eventインターフェースは非公開メソッドを含むため、このパッケージ外で実装を追加できない。
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/mentorlink/internal/model"
)

// Content は通知レコードとして保存される表示内容。
type Content struct {
	Title     string
	Message   string
	ActionRef string
}

// Event は通知の発生源となるドメインイベント。
type Event interface {
	// Type は永続化される通知種別を返す。
	Type() model.NotificationType
	// Content は通知のタイトル・本文・遷移先を返す。
	Content() Content

	sealed()
}

// MentorshipRequestReceived はメンターがメンタリング申請を受け取ったイベント。
type MentorshipRequestReceived struct {
	RequestID  string `json:"request_id"`
	MenteeName string `json:"mentee_name"`
	Note       string `json:"note"` // 申請時のメッセージ（任意）
}

// MentorshipRequestAccepted はメンティーの申請が承認されたイベント。
type MentorshipRequestAccepted struct {
	RequestID  string `json:"request_id"`
	MentorName string `json:"mentor_name"`
}

// MentorshipRequestRejected はメンティーの申請が却下されたイベント。
type MentorshipRequestRejected struct {
	RequestID  string `json:"request_id"`
	MentorName string `json:"mentor_name"`
	Reason     string `json:"reason"`
}

// OfficialMentorRequestReceived は管理者が公式メンター申請を受け取ったイベント。
type OfficialMentorRequestReceived struct {
	RequestID     string `json:"request_id"`
	ApplicantName string `json:"applicant_name"`
}

// OfficialMentorRequestApproved は公式メンター申請が承認されたイベント。
type OfficialMentorRequestApproved struct {
	RequestID string `json:"request_id"`
}

// OfficialMentorRequestRejected は公式メンター申請が却下されたイベント。
type OfficialMentorRequestRejected struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// NewConnection は新しいメンタリング関係が成立したイベント。
type NewConnection struct {
	ConnectionID string `json:"connection_id"`
	PeerName     string `json:"peer_name"`
}

// MentorshipEnded はメンタリング関係が終了したイベント。
type MentorshipEnded struct {
	MentorshipID string `json:"mentorship_id"`
	PeerName     string `json:"peer_name"`
}

// RatingReceived は評価を受け取ったイベント。
type RatingReceived struct {
	RatingID  string `json:"rating_id"`
	RaterName string `json:"rater_name"`
	Score     int    `json:"score"`
}

// RatingRequest はメンタリング終了後に評価を依頼するイベント。
type RatingRequest struct {
	MentorshipID string `json:"mentorship_id"`
	PeerName     string `json:"peer_name"`
}

// SystemAnnouncement はシステムからのお知らせ。
// 週次投票の結果発表はPollResultAnnouncementを使う。
type SystemAnnouncement struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	ActionRef string `json:"action_ref"`
}

// PollResultAnnouncement は週次投票の勝者発表。通知種別はsystem_announcementとして保存される。
type PollResultAnnouncement struct {
	PollID      string
	PollTitle   string
	WinnerName  string
	WinnerCode  string
	ProposedAt  time.Time
	Presenter   string
	WinnerVotes int
	TotalVotes  int
}

func (MentorshipRequestReceived) Type() model.NotificationType {
	return model.NotificationTypeMentorshipRequestReceived
}

func (e MentorshipRequestReceived) Content() Content {
	msg := fmt.Sprintf("%sさんからメンタリングの申請が届きました。", e.MenteeName)
	if note := strings.TrimSpace(e.Note); note != "" {
		msg += "\n" + note
	}
	return Content{
		Title:     "新しいメンタリング申請",
		Message:   msg,
		ActionRef: "/mentorship/requests/" + e.RequestID,
	}
}

func (MentorshipRequestAccepted) Type() model.NotificationType {
	return model.NotificationTypeMentorshipRequestAccepted
}

func (e MentorshipRequestAccepted) Content() Content {
	return Content{
		Title:     "メンタリング申請が承認されました",
		Message:   fmt.Sprintf("%sさんがメンタリング申請を承認しました。", e.MentorName),
		ActionRef: "/mentorship/requests/" + e.RequestID,
	}
}

func (MentorshipRequestRejected) Type() model.NotificationType {
	return model.NotificationTypeMentorshipRequestRejected
}

func (e MentorshipRequestRejected) Content() Content {
	msg := fmt.Sprintf("%sさんへのメンタリング申請は承認されませんでした。", e.MentorName)
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		msg += "\n理由: " + reason
	}
	return Content{
		Title:     "メンタリング申請の結果",
		Message:   msg,
		ActionRef: "/mentorship/requests/" + e.RequestID,
	}
}

func (OfficialMentorRequestReceived) Type() model.NotificationType {
	return model.NotificationTypeOfficialMentorRequestReceived
}

func (e OfficialMentorRequestReceived) Content() Content {
	return Content{
		Title:     "公式メンター申請",
		Message:   fmt.Sprintf("%sさんから公式メンターの申請が届きました。", e.ApplicantName),
		ActionRef: "/admin/official-mentor-requests/" + e.RequestID,
	}
}

func (OfficialMentorRequestApproved) Type() model.NotificationType {
	return model.NotificationTypeOfficialMentorRequestApproved
}

func (e OfficialMentorRequestApproved) Content() Content {
	return Content{
		Title:     "公式メンターに認定されました",
		Message:   "公式メンター申請が承認されました。プロフィールに認定バッジが表示されます。",
		ActionRef: "/profile",
	}
}

func (OfficialMentorRequestRejected) Type() model.NotificationType {
	return model.NotificationTypeOfficialMentorRequestRejected
}

func (e OfficialMentorRequestRejected) Content() Content {
	msg := "公式メンター申請は承認されませんでした。"
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		msg += "\n理由: " + reason
	}
	return Content{
		Title:   "公式メンター申請の結果",
		Message: msg,
	}
}

func (NewConnection) Type() model.NotificationType {
	return model.NotificationTypeNewConnection
}

func (e NewConnection) Content() Content {
	return Content{
		Title:     "新しいつながり",
		Message:   fmt.Sprintf("%sさんとつながりました。", e.PeerName),
		ActionRef: "/connections/" + e.ConnectionID,
	}
}

func (MentorshipEnded) Type() model.NotificationType {
	return model.NotificationTypeMentorshipEnded
}

func (e MentorshipEnded) Content() Content {
	return Content{
		Title:     "メンタリングが終了しました",
		Message:   fmt.Sprintf("%sさんとのメンタリングが終了しました。", e.PeerName),
		ActionRef: "/mentorship/" + e.MentorshipID,
	}
}

func (RatingReceived) Type() model.NotificationType {
	return model.NotificationTypeRatingReceived
}

func (e RatingReceived) Content() Content {
	return Content{
		Title:     "評価が届きました",
		Message:   fmt.Sprintf("%sさんから★%dの評価が届きました。", e.RaterName, e.Score),
		ActionRef: "/ratings/" + e.RatingID,
	}
}

func (RatingRequest) Type() model.NotificationType {
	return model.NotificationTypeRatingRequest
}

func (e RatingRequest) Content() Content {
	return Content{
		Title:     "評価のお願い",
		Message:   fmt.Sprintf("%sさんとのメンタリングを評価してください。", e.PeerName),
		ActionRef: "/mentorship/" + e.MentorshipID + "/rate",
	}
}

func (SystemAnnouncement) Type() model.NotificationType {
	return model.NotificationTypeSystemAnnouncement
}

func (e SystemAnnouncement) Content() Content {
	return Content{
		Title:     e.Title,
		Message:   e.Body,
		ActionRef: e.ActionRef,
	}
}

func (PollResultAnnouncement) Type() model.NotificationType {
	return model.NotificationTypeSystemAnnouncement
}

func (e PollResultAnnouncement) Content() Content {
	msg := fmt.Sprintf("「%s」の結果、今週のテーマは「%s」(%s)に決まりました。(%d/%d票)",
		e.PollTitle, e.WinnerName, e.WinnerCode, e.WinnerVotes, e.TotalVotes)
	if !e.ProposedAt.IsZero() {
		msg += fmt.Sprintf("\n開催予定: %s", e.ProposedAt.Format("2006-01-02 15:04"))
	}
	if e.Presenter != "" {
		msg += fmt.Sprintf("\n発表者: %s", e.Presenter)
	}
	return Content{
		Title:     "週次投票の結果発表",
		Message:   msg,
		ActionRef: "/polls/" + e.PollID,
	}
}

func (MentorshipRequestReceived) sealed()     {}
func (MentorshipRequestAccepted) sealed()     {}
func (MentorshipRequestRejected) sealed()     {}
func (OfficialMentorRequestReceived) sealed() {}
func (OfficialMentorRequestApproved) sealed() {}
func (OfficialMentorRequestRejected) sealed() {}
func (NewConnection) sealed()                 {}
func (MentorshipEnded) sealed()               {}
func (RatingReceived) sealed()                {}
func (RatingRequest) sealed()                 {}
func (SystemAnnouncement) sealed()            {}
func (PollResultAnnouncement) sealed()        {}
