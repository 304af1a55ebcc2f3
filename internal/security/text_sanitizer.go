// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は通知のタイトル・本文に混入したHTMLを除去し、
// 遷移先パスがアプリ内の相対パスであることを保証する。
// 通知は複数のクライアント（Web・モバイル）でそのまま表示されるため、保存前に一度だけ適用する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxTitleLength は通知タイトルの最大文字数（notifications.titleの列長と一致させる）。
	MaxTitleLength = 255
	// MaxMessageLength は通知本文の最大文字数。
	MaxMessageLength = 2000
)

// TextSanitizerService は通知テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
	// maxRunesを超える場合は末尾を切り詰める。0以下の場合は切り詰めない。
	SanitizeText(raw string, maxRunes int) string

	// SanitizeActionRef はアプリ内の相対パスのみを通過させる。
	// スキーム付きURL、プロトコル相対URL、制御文字を含むパスは空文字列にする。
	SanitizeActionRef(ref string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyは並行利用して安全なため、1インスタンスを共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
// StrictPolicyはテキスト中の記号をエスケープするため、保存前に元の文字へ戻す。
func (s *textSanitizer) SanitizeText(raw string, maxRunes int) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.TrimSpace(text)
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes])
	}
	return text
}

// SanitizeActionRef はアプリ内の相対パスのみを通過させる。
func (s *textSanitizer) SanitizeActionRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if !strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "/\\") {
		return ""
	}
	for _, r := range ref {
		if r < 0x20 || r == 0x7f {
			return ""
		}
	}
	if strings.ContainsAny(ref, "<>\"'") {
		return ""
	}
	return ref
}
