package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultSummaryModel is used when no model is configured.
const DefaultSummaryModel = openai.GPT4oMini

const summarySystemPrompt = "You are a helpful assistant that analyzes Solana meme tokens for on-chain traders."

// Summarizer asks an OpenAI-compatible chat model for a short narrative
// and risk summary of a fired signal.
type Summarizer struct {
	client *openai.Client
	model  string
}

// NewSummarizer creates a summarizer. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the default.
func NewSummarizer(apiKey, baseURL, model string) *Summarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultSummaryModel
	}
	return &Summarizer{client: openai.NewClientWithConfig(cfg), model: model}
}

// Summarize returns Telegram-safe HTML.
func (s *Summarizer) Summarize(ctx context.Context, n *Notification) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: summaryPrompt(n)},
		},
		MaxTokens: 800,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion: empty content")
	}
	return "\U0001F9E0 <b>AI Summary</b>\n" + html.EscapeString(text), nil
}

func summaryPrompt(n *Notification) string {
	var b strings.Builder
	if t := n.Token; t != nil {
		fmt.Fprintf(&b, "Token %s (%s), address %s.\n", t.Symbol, t.Name, t.Address)
		fmt.Fprintf(&b, "Market cap %s, liquidity %s, 24h volume %s, 6h change %s%%.\n",
			FormatUSD(t.MarketCap), FormatUSD(t.Liquidity), FormatUSD(t.VolumeH24), t.ChangeH6.String())
		if t.Website != "" {
			fmt.Fprintf(&b, "Website: %s\n", t.Website)
		}
		if t.Twitter != "" {
			fmt.Fprintf(&b, "Twitter: %s\n", t.Twitter)
		}
	}
	fmt.Fprintf(&b, "%d tracked wallets bought within the window (combined score %d).\n",
		len(n.Signal.Accounts), n.Signal.TotalScore)
	if n.Report != nil {
		for _, w := range n.Report.Sorted() {
			fmt.Fprintf(&b, "- %s spent %s at average MC %s, still holds %s%%\n",
				w.Label, FormatUSD(w.TotalBuyCost), FormatUSD(w.AverageMarketCap), w.HoldsPercentage.StringFixed(2))
		}
	}
	b.WriteString("\nGive a terse bullet summary in this format:\n- Narrative:\n- Risks:\nSkip price predictions.")
	return b.String()
}
