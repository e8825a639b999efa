package session

import "time"

// Session 记录匿名访客的提问配额。
type Session struct {
	ID                 string    `json:"sessionId"`
	CreatedAt          time.Time `json:"createdAt"`
	LastActivity       time.Time `json:"lastActivity"`
	RemainingQuestions int       `json:"remainingQuestions"`
	RemainingTokens    int       `json:"remainingTokens"`
	Closed             bool      `json:"closed"`
}

// HasQuota 表示两个计数器是否都仍为正数。
func (s Session) HasQuota() bool {
	return s.RemainingQuestions > 0 && s.RemainingTokens > 0
}
