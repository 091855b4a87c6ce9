package command

import "fmt"

// Amount bounds in USD.
const (
	MinAmount     = 1.0
	MaxAmount     = 100000.0
	MinConfidence = 0.5
)

// SupportedSymbols are the contracts commands may trade.
var SupportedSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"DOGEUSDT", "ADAUSDT", "DOTUSDT", "AVAXUSDT", "LINKUSDT",
	"LTCUSDT", "MATICUSDT",
}

func supported(symbol string) bool {
	for _, s := range SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Validate returns the problems of cmd; an empty result means it can run.
func Validate(cmd *ParsedCommand) []string {
	if cmd == nil {
		return []string{"command not recognised"}
	}
	var problems []string
	if cmd.Action == ActionBuy || cmd.Action == ActionSell {
		if cmd.Symbol != "" && !supported(cmd.Symbol) {
			problems = append(problems, fmt.Sprintf("unsupported symbol: %s", cmd.Symbol))
		}
		switch {
		case cmd.Amount == 0:
			problems = append(problems, "amount not specified")
		case cmd.Amount < MinAmount:
			problems = append(problems, fmt.Sprintf("amount too low: %g USD (min %g)", cmd.Amount, MinAmount))
		case cmd.Amount > MaxAmount:
			problems = append(problems, fmt.Sprintf("amount too high: %g USD (max %g)", cmd.Amount, MaxAmount))
		}
	}
	if cmd.Confidence < MinConfidence {
		problems = append(problems, "command is ambiguous, please repeat")
	}
	return problems
}
