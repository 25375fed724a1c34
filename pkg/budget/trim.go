package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/bellwetherhq/bellwether/pkg/llms"
)

// Estimator estimates the token footprint of a message.
type Estimator interface {
	Estimate(m llms.Message) int
}

// HeuristicEstimator approximates tokens as len(content)/4 plus per-message
// framing overhead.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(m llms.Message) int {
	return len(m.Content)/4 + 4
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// TiktokenEstimator counts tokens with the model's real encoding, falling
// back to cl100k_base for models tiktoken does not know.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TiktokenEstimator{encoding: enc}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	encodingCache[model] = enc
	return &TiktokenEstimator{encoding: enc}, nil
}

func (e *TiktokenEstimator) Estimate(m llms.Message) int {
	overhead := 3
	return overhead +
		len(e.encoding.Encode(string(m.Role), nil, nil)) +
		len(e.encoding.Encode(m.Content, nil, nil))
}

// TrimMessages drops oldest non-system messages until the estimated total
// fits maxTokens, keeping at least minMessages. System messages and the most
// recent user turn always survive. If a single message exceeds the budget
// and minMessages is 1, it is returned anyway.
func TrimMessages(messages []llms.Message, maxTokens, minMessages int, est Estimator) []llms.Message {
	if est == nil {
		est = HeuristicEstimator{}
	}
	if minMessages < 1 {
		minMessages = 1
	}
	if len(messages) <= minMessages {
		return messages
	}

	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.RoleUser {
			lastUser = i
			break
		}
	}

	keep := make([]bool, len(messages))
	total := 0
	kept := len(messages)
	for i, m := range messages {
		keep[i] = true
		total += est.Estimate(m)
	}

	for i := 0; i < len(messages) && total > maxTokens && kept > minMessages; i++ {
		if !keep[i] || messages[i].Role == llms.RoleSystem || i == lastUser {
			continue
		}
		keep[i] = false
		total -= est.Estimate(messages[i])
		kept--
	}

	trimmed := make([]llms.Message, 0, kept)
	for i, m := range messages {
		if keep[i] {
			trimmed = append(trimmed, m)
		}
	}
	return trimmed
}
