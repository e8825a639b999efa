package chat

// Result 是一次完整问答交换后返回给前端的数据。
type Result struct {
	Reply              string `json:"reply"`
	RemainingQuestions int    `json:"remainingQuestions"`
	RemainingTokens    int    `json:"remainingTokens"`
	SessionID          string `json:"sessionId"`
	SessionClosed      bool   `json:"sessionClosed"`
}
