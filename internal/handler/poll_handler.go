package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/poll"
)

// PollService は投票ハンドラーが必要とするサービスインターフェース。
type PollService interface {
	List(ctx context.Context, limit int) ([]*model.Poll, error)
	Current(ctx context.Context, voterID string) (*poll.View, error)
	Get(ctx context.Context, pollID, voterID string) (*poll.View, error)
	CastVote(ctx context.Context, pollID, voterID string, optionIndex int) (*model.Poll, error)
}

// PollHandler は週次投票のHTTPハンドラー。
type PollHandler struct {
	service PollService
}

// NewPollHandler はPollHandlerを生成する。
func NewPollHandler(service PollService) *PollHandler {
	return &PollHandler{service: service}
}

// --- リクエスト/レスポンス型 ---

type voteRequest struct {
	OptionIndex *int `json:"option_index"`
}

type pollOptionResponse struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	ProposedAt time.Time `json:"proposed_at"`
	Presenter  string    `json:"presenter"`
	Votes      int       `json:"votes"`
}

type pollResponse struct {
	ID                string               `json:"id"`
	Title             string               `json:"title"`
	Description       string               `json:"description"`
	Status            string               `json:"status"`
	OpensAt           time.Time            `json:"opens_at"`
	ClosesAt          time.Time            `json:"closes_at"`
	Options           []pollOptionResponse `json:"options"`
	TotalVotes        int                  `json:"total_votes"`
	EligibleVoters    int                  `json:"eligible_voters"`
	ParticipationRate float64              `json:"participation_rate"`
	Winner            *pollOptionResponse  `json:"winner,omitempty"`
	AnnouncedAt       *time.Time           `json:"announced_at,omitempty"`
	HasVoted          *bool                `json:"has_voted,omitempty"`
}

type pollListResponse struct {
	Polls []pollResponse `json:"polls"`
}

func toPollResponse(p *model.Poll) pollResponse {
	options := make([]pollOptionResponse, 0, len(p.Options))
	for i, o := range p.Options {
		options = append(options, toOptionResponse(i, o))
	}
	resp := pollResponse{
		ID:                p.ID,
		Title:             p.Title,
		Description:       p.Description,
		Status:            string(p.Status),
		OpensAt:           p.OpensAt,
		ClosesAt:          p.ClosesAt,
		Options:           options,
		TotalVotes:        p.TotalVotes,
		EligibleVoters:    p.EligibleVoters,
		ParticipationRate: p.ParticipationRate(),
		AnnouncedAt:       p.AnnouncedAt,
	}
	if w := p.Winner(); w != nil {
		winner := toOptionResponse(*p.WinnerIndex, *w)
		resp.Winner = &winner
	}
	return resp
}

func toOptionResponse(i int, o model.SubjectOption) pollOptionResponse {
	return pollOptionResponse{
		Index:      i,
		Name:       o.Name,
		Code:       o.Code,
		ProposedAt: o.ProposedAt,
		Presenter:  o.Presenter,
		Votes:      o.Votes,
	}
}

func toViewResponse(v *poll.View) pollResponse {
	resp := toPollResponse(v.Poll)
	hasVoted := v.HasVoted
	resp.HasVoted = &hasVoted
	return resp
}

// List は投票一覧を新しい順に返す。
// GET /api/polls?limit=20
func (h *PollHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	limit, err := queryInt(r, "limit", poll.DefaultListLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	polls, err := h.service.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	resp := pollListResponse{Polls: make([]pollResponse, 0, len(polls))}
	for _, p := range polls {
		resp.Polls = append(resp.Polls, toPollResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Current は受付中の最新の投票を返す。
// GET /api/polls/current
func (h *PollHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.service.Current(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(view))
}

// Get は投票の詳細と現在の集計を返す。
// GET /api/polls/{id}
func (h *PollHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(view))
}

// CastVote は投票を受け付ける。
// POST /api/polls/{id}/votes
func (h *PollHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, r, model.NewInvalidRequestError("リクエストボディが不正です。"))
		return
	}
	if req.OptionIndex == nil {
		handleServiceError(w, r, model.NewInvalidRequestError("option_indexは必須です。"))
		return
	}

	updated, err := h.service.CastVote(r.Context(), chi.URLParam(r, "id"), userID, *req.OptionIndex)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toViewResponse(&poll.View{Poll: updated, HasVoted: true}))
}
