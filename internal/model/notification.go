package model

import "time"

// NotificationType は通知の種別を表す。
type NotificationType string

const (
	// NotificationTypeMentorshipRequestReceived はメンタリング申請を受け取ったことを表す。
	NotificationTypeMentorshipRequestReceived NotificationType = "mentorship_request_received"
	// NotificationTypeMentorshipRequestAccepted はメンタリング申請が承認されたことを表す。
	NotificationTypeMentorshipRequestAccepted NotificationType = "mentorship_request_accepted"
	// NotificationTypeMentorshipRequestRejected はメンタリング申請が却下されたことを表す。
	NotificationTypeMentorshipRequestRejected NotificationType = "mentorship_request_rejected"
	// NotificationTypeOfficialMentorRequestReceived は公式メンター申請を受け取ったことを表す（管理者向け）。
	NotificationTypeOfficialMentorRequestReceived NotificationType = "official_mentor_request_received"
	// NotificationTypeOfficialMentorRequestApproved は公式メンター申請が承認されたことを表す。
	NotificationTypeOfficialMentorRequestApproved NotificationType = "official_mentor_request_approved"
	// NotificationTypeOfficialMentorRequestRejected は公式メンター申請が却下されたことを表す。
	NotificationTypeOfficialMentorRequestRejected NotificationType = "official_mentor_request_rejected"
	// NotificationTypeNewConnection は新しいつながりが成立したことを表す。
	NotificationTypeNewConnection NotificationType = "new_connection"
	// NotificationTypeMentorshipEnded はメンタリング関係が終了したことを表す。
	NotificationTypeMentorshipEnded NotificationType = "mentorship_ended"
	// NotificationTypeRatingReceived は評価を受け取ったことを表す。
	NotificationTypeRatingReceived NotificationType = "rating_received"
	// NotificationTypeRatingRequest は評価の依頼を表す。
	NotificationTypeRatingRequest NotificationType = "rating_request"
	// NotificationTypeSystemAnnouncement はシステムからのお知らせ（週次投票の結果など）を表す。
	NotificationTypeSystemAnnouncement NotificationType = "system_announcement"
)

var knownNotificationTypes = map[NotificationType]struct{}{
	NotificationTypeMentorshipRequestReceived:     {},
	NotificationTypeMentorshipRequestAccepted:     {},
	NotificationTypeMentorshipRequestRejected:     {},
	NotificationTypeOfficialMentorRequestReceived: {},
	NotificationTypeOfficialMentorRequestApproved: {},
	NotificationTypeOfficialMentorRequestRejected: {},
	NotificationTypeNewConnection:                 {},
	NotificationTypeMentorshipEnded:               {},
	NotificationTypeRatingReceived:                {},
	NotificationTypeRatingRequest:                 {},
	NotificationTypeSystemAnnouncement:            {},
}

// Valid は定義済みの通知種別かどうかを返す。
func (t NotificationType) Valid() bool {
	_, ok := knownNotificationTypes[t]
	return ok
}

// Notification はユーザー宛ての通知レコードを表す。
// is_readの変更は受信者本人または作成したシステムのみが行う。
type Notification struct {
	ID        string
	UserID    string // 受信者
	Type      NotificationType
	Title     string
	Message   string
	ActionRef string // アプリ内の遷移先パス。空の場合は遷移なし
	IsRead    bool
	ReadAt    *time.Time
	CreatedAt time.Time
}

// NotificationFilter は通知一覧のフィルタとページネーション条件を表す。
// IsReadがnilの場合は既読・未読の両方、Typeが空の場合は全種別を対象とする。
type NotificationFilter struct {
	IsRead *bool
	Type   NotificationType
	Limit  int
	Offset int
}

// NotificationPage は通知一覧の1ページ分の結果を表す。
type NotificationPage struct {
	Items []*Notification
	Total int
}
