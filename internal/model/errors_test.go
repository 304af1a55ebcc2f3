package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsCode_WrappedError(t *testing.T) {
	err := fmt.Errorf("casting vote: %w", NewAlreadyVotedError("poll-1"))

	if !IsCode(err, ErrCodeAlreadyVoted) {
		t.Error("ラップされたAPIErrorのコードを判定できること")
	}
	if IsCode(err, ErrCodePollClosed) {
		t.Error("異なるコードはfalseであること")
	}
	if IsCode(errors.New("plain"), ErrCodeAlreadyVoted) {
		t.Error("APIError以外はfalseであること")
	}
}

func TestNewTransientStoreError_KeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := NewTransientStoreError(cause)

	if !errors.Is(err, cause) {
		t.Error("Unwrapで原因を辿れること")
	}
	if strings.Contains(err.Message, "connection refused") {
		t.Errorf("ユーザー向けメッセージに内部エラーを含めないこと: %q", err.Message)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error()はログ用に原因を含むこと: %q", err.Error())
	}
}
