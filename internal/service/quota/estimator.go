package quota

import "unicode/utf8"

// DefaultCharsPerToken 是字符数到 token 数的粗略换算比例。
const DefaultCharsPerToken = 4

// Estimator 估算一次问答交换消耗的 token 数，可替换为真实的分词器实现。
type Estimator interface {
	Estimate(prompt, reply string) int
}

// CharEstimator 按字符长度近似 token 数：ceil((len(prompt)+len(reply)) / CharsPerToken)。
type CharEstimator struct {
	CharsPerToken int
}

// NewCharEstimator 返回使用默认比例的估算器。
func NewCharEstimator() CharEstimator {
	return CharEstimator{CharsPerToken: DefaultCharsPerToken}
}

// Estimate 实现 Estimator。长度按 Unicode 码点计，emoji 等补充平面字符只算一个字符。
func (e CharEstimator) Estimate(prompt, reply string) int {
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}

	chars := utf8.RuneCountInString(prompt) + utf8.RuneCountInString(reply)
	return (chars + ratio - 1) / ratio
}
