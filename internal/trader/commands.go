package trader

import (
	"context"
	"fmt"

	"voice-trade-bot-go/internal/command"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// CommandResult is the outcome of a text command.
type CommandResult struct {
	Text      string                 `json:"text"`
	Command   *command.ParsedCommand `json:"command,omitempty"`
	Summary   string                 `json:"summary,omitempty"`
	Executed  bool                   `json:"executed"`
	Problems  []string               `json:"problems,omitempty"`
	Orders    []*OrderResult         `json:"orders,omitempty"`
	Cancelled int                    `json:"cancelled,omitempty"`
	Positions []models.Position      `json:"positions,omitempty"`
	Balance   *exchange.Balance      `json:"balance,omitempty"`
	Emergency *EmergencyReport       `json:"emergency,omitempty"`
}

// CommandService turns free text into executor calls.
type CommandService struct {
	parser   *command.Parser
	lexicon  *command.Lexicon
	executor *Executor
	logger   *zap.Logger
}

// NewCommandService creates a command service. lexicon may be nil.
func NewCommandService(parser *command.Parser, lexicon *command.Lexicon, executor *Executor, logger *zap.Logger) *CommandService {
	return &CommandService{parser: parser, lexicon: lexicon, executor: executor, logger: logger.Named("commands")}
}

// Handle parses text, validates it and runs it. Commands that fail
// validation come back with Problems set and a nil error.
func (s *CommandService) Handle(ctx context.Context, text string) (*CommandResult, error) {
	res := &CommandResult{Text: text}

	cmd := s.parser.Parse(text)
	if cmd == nil && s.lexicon != nil {
		if category, phrase, ok := s.lexicon.Match(text); ok {
			s.logger.Debug("Matched voice phrase", zap.String("phrase", phrase), zap.String("category", category))
			cmd = &command.ParsedCommand{Action: category, OrderType: models.OrderTypeMarket, RawText: command.Normalize(text), Confidence: 1}
		}
	}

	if problems := command.Validate(cmd); len(problems) > 0 {
		res.Command = cmd
		res.Problems = problems
		s.logger.Info("Command rejected", zap.String("text", text), zap.Strings("problems", problems))
		return res, nil
	}
	res.Command = cmd
	res.Summary = command.Summary(cmd)
	s.logger.Info("Executing command", zap.String("text", text), zap.String("summary", res.Summary))

	var err error
	switch cmd.Action {
	case command.ActionBuy, command.ActionSell:
		var order *OrderResult
		order, err = s.executor.ExecuteMarketOrder(ctx, OrderParams{
			Symbol:       cmd.Symbol,
			Side:         cmd.Side,
			Amount:       cmd.Amount,
			AmountType:   AmountUSD,
			Leverage:     cmd.Leverage,
			OrderType:    models.OrderTypeMarket,
			VoiceCommand: text,
			Source:       "command",
		})
		if order != nil {
			res.Orders = []*OrderResult{order}
		}
	case command.ActionClose:
		if cmd.Symbol != "" {
			res.Orders, err = s.executor.ClosePosition(ctx, cmd.Symbol)
		} else {
			res.Orders, err = s.executor.CloseAllPositions(ctx)
		}
	case command.ActionCancel:
		res.Cancelled, err = s.executor.CancelAllOrders(ctx)
	case command.ActionStatus:
		res.Positions, err = s.executor.OpenPositions(ctx)
	case command.ActionBalance:
		res.Balance, err = s.executor.Balance(ctx)
	case command.ActionStop:
		res.Emergency = s.executor.EmergencyStop(ctx)
	default:
		return res, fmt.Errorf("unknown command action %q", cmd.Action)
	}
	if err != nil {
		return res, err
	}
	res.Executed = true
	return res, nil
}
