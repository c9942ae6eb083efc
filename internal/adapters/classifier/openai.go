package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/openai"
)

const ratingInstructions = `You rate a user's hourly log as PRODUCTIVE (ok=true) or NOT PRODUCTIVE (ok=false) based on their goal for the day if they have one.
Rules:
- ok=true if the activity is work, study, chores, exercise, rest/recovery, social time with productive intent, or neutral life admin.
- ok=false if the activity is procrastination, clearly trolling, spam, abusive, social media (unless related to work), watching unproductive videos, playing video games, etc.
- If ambiguous, do your best to rate it based on the context given.
- If the daily goal is provided, weigh whether the activity advances that goal; however, truly necessary neutral tasks can still be ok=true.
- If the user provides a goal make sure to be extremely critical of whether the activity aligns with their goal for today aside from eating and exercise.
- For example, if the user has a goal to study for a big midterm but they are doing homework for another subject it should be false since the priority is to study
Return ONLY a JSON object {"ok": boolean, "reason": string}.`

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIRater оценивает записи через Chat Completions.
// Любой внутренний сбой — недоступность провайдера, кривой JSON,
// нарушенная схема — деградирует в безопасный вердикт ok=true.
type OpenAIRater struct {
	client chatCompleter
	model  string
	log    zerolog.Logger
}

var _ domain.Classifier = (*OpenAIRater)(nil)

// NewOpenAIRater создаёт оценщик поверх клиента OpenAI.
func NewOpenAIRater(client chatCompleter, model string, logger zerolog.Logger) *OpenAIRater {
	return &OpenAIRater{client: client, model: model, log: logger}
}

type ratingVerdict struct {
	OK     *bool  `json:"ok"`
	Reason string `json:"reason"`
}

// Rate возвращает вердикт по часовой записи. Ошибка не возвращается никогда:
// сбой провайдера превращается в fallback-вердикт, чтобы не блокировать пользователя.
func (r *OpenAIRater) Rate(ctx context.Context, logText, goal string) (domain.Verdict, error) {
	userContent := "Log: " + logText
	if strings.TrimSpace(goal) != "" {
		userContent += "\nGoal: " + goal
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: ratingInstructions},
			{Role: openai.RoleUser, Content: userContent},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("classifier: провайдер недоступен, вердикт по умолчанию")
		return domain.Verdict{OK: true, Reason: "Fallback (error: " + err.Error() + ")"}, nil
	}
	if len(resp.Choices) == 0 {
		return domain.Verdict{OK: true, Reason: "Defaulted to ok=true because of invalid response."}, nil
	}

	var out ratingVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil || out.OK == nil {
		r.log.Warn().Err(err).Msg("classifier: модель вернула некорректный JSON")
		return domain.Verdict{OK: true, Reason: "Defaulted to ok=true because of invalid response."}, nil
	}
	return domain.Verdict{OK: *out.OK, Reason: out.Reason}, nil
}
