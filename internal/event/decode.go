package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/mentorlink/internal/model"
)

var (
	// ErrUnknownType は外部から受け付けない通知種別を表す。
	ErrUnknownType = errors.New("unknown event type")
	// ErrInvalidFields は種別ごとのフィールドが不正または不足していることを表す。
	ErrInvalidFields = errors.New("invalid event fields")
)

// Decode は通知種別と種別ごとのフィールドからイベントを復元する。
// 週次投票の結果発表は投票マネージャーだけが発行するため、ここでは受け付けない。
func Decode(eventType model.NotificationType, fields json.RawMessage) (Event, error) {
	switch eventType {
	case model.NotificationTypeMentorshipRequestReceived:
		return decodeAs(fields, func(e MentorshipRequestReceived) bool {
			return e.RequestID != "" && e.MenteeName != ""
		})
	case model.NotificationTypeMentorshipRequestAccepted:
		return decodeAs(fields, func(e MentorshipRequestAccepted) bool {
			return e.RequestID != "" && e.MentorName != ""
		})
	case model.NotificationTypeMentorshipRequestRejected:
		return decodeAs(fields, func(e MentorshipRequestRejected) bool {
			return e.RequestID != "" && e.MentorName != ""
		})
	case model.NotificationTypeOfficialMentorRequestReceived:
		return decodeAs(fields, func(e OfficialMentorRequestReceived) bool {
			return e.RequestID != "" && e.ApplicantName != ""
		})
	case model.NotificationTypeOfficialMentorRequestApproved:
		return decodeAs(fields, func(e OfficialMentorRequestApproved) bool { return e.RequestID != "" })
	case model.NotificationTypeOfficialMentorRequestRejected:
		return decodeAs(fields, func(e OfficialMentorRequestRejected) bool { return e.RequestID != "" })
	case model.NotificationTypeNewConnection:
		return decodeAs(fields, func(e NewConnection) bool {
			return e.ConnectionID != "" && e.PeerName != ""
		})
	case model.NotificationTypeMentorshipEnded:
		return decodeAs(fields, func(e MentorshipEnded) bool {
			return e.MentorshipID != "" && e.PeerName != ""
		})
	case model.NotificationTypeRatingReceived:
		return decodeAs(fields, func(e RatingReceived) bool {
			return e.RatingID != "" && e.RaterName != ""
		})
	case model.NotificationTypeRatingRequest:
		return decodeAs(fields, func(e RatingRequest) bool {
			return e.MentorshipID != "" && e.PeerName != ""
		})
	case model.NotificationTypeSystemAnnouncement:
		return decodeAs(fields, func(e SystemAnnouncement) bool {
			return e.Title != "" && e.Body != ""
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
}

func decodeAs[T Event](fields json.RawMessage, valid func(T) bool) (Event, error) {
	var e T
	if len(fields) > 0 {
		dec := json.NewDecoder(bytes.NewReader(fields))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFields, err)
		}
	}
	if !valid(e) {
		return nil, fmt.Errorf("%w: required field is empty", ErrInvalidFields)
	}
	return e, nil
}
