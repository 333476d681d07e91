// Package brain is the external decision service boundary: it turns a
// market/portfolio brief into a target allocation by asking a model to
// call a single allocation-setting function.
package brain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/bytedance/sonic"
	"google.golang.org/genai"
)

// ErrInvalidAllocation marks a decision that violates the allocation
// contract. The engine rejects such decisions and trades nothing.
var ErrInvalidAllocation = errors.New("invalid target allocation")

const _allocationTool = "set_portfolio_allocation"

const _systemPrompt = `You are an aggressive crypto trader managing a small portfolio.
Your goal is to maximize returns, not to preserve capital.

TIMING:
- You decide once per cycle and cannot react until the next one.
- Give trades time to work; don't churn the portfolio every cycle.
- Only exit a position if your thesis is clearly broken or you have a
  significantly better opportunity.

REVIEWING POSITIONS:
- You'll see the thesis you recorded when you entered each position.
  Evaluate it honestly. If it's broken, cut the position regardless of P&L.

CONSTRAINTS:
- You can only allocate to coins in the provided universe.
- Dust positions are filtered out automatically; don't worry about them.
- Allocations plus cash percent must sum to 100.

OUTPUT:
Call the set_portfolio_allocation tool with your target allocation and
brief reasoning for significant moves.`

func allocationDeclaration(maxPositionPct float64) *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        _allocationTool,
		Description: "Set the target portfolio allocation. Allocations plus cash_percent must sum to 100.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"allocations": {
					Type:        genai.TypeArray,
					Description: "List of coin allocations",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"symbol": {
								Type:        genai.TypeString,
								Description: "Coin symbol, e.g. DOGE",
							},
							"percent": {
								Type:        genai.TypeNumber,
								Description: fmt.Sprintf("Percentage of portfolio (0-%.0f)", maxPositionPct*100),
							},
							"reasoning": {
								Type:        genai.TypeString,
								Description: "Brief reason for this allocation",
							},
						},
						Required: []string{"symbol", "percent", "reasoning"},
					},
				},
				"cash_percent": {
					Type:        genai.TypeNumber,
					Description: "Percentage held in the settlement currency",
				},
				"market_outlook": {
					Type: genai.TypeString,
					Enum: []string{"bullish", "neutral", "bearish"},
				},
				"conviction": {
					Type: genai.TypeString,
					Enum: []string{"low", "medium", "high", "maximum"},
				},
			},
			Required: []string{"allocations", "cash_percent"},
		},
	}
}

type Brain struct {
	client         *genai.Client
	modelName      string
	maxPositionPct float64
	logger         logger.Logger
}

func NewBrain(ctx context.Context, cfg config.BrainConfig, maxPositionPct float64, logger logger.Logger) (*Brain, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("%w: can't init decision client", err)
	}

	return &Brain{
		client:         client,
		modelName:      cfg.Model,
		maxPositionPct: maxPositionPct,
		logger:         logger,
	}, nil
}

// Decide asks the model for a target allocation, forcing a call of the
// allocation tool and decoding its arguments.
func (b *Brain) Decide(ctx context.Context, brief Brief) (model.TargetAllocation, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.modelName, genai.Text(brief.prompt()), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: _systemPrompt}}},
		Tools: []*genai.Tool{
			{FunctionDeclarations: []*genai.FunctionDeclaration{allocationDeclaration(b.maxPositionPct)}},
		},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{_allocationTool},
			},
		},
	})
	if err != nil {
		return model.TargetAllocation{}, fmt.Errorf("%w: decision request failed", err)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.FunctionCall == nil || part.FunctionCall.Name != _allocationTool {
				continue
			}
			return decodeAllocation(part.FunctionCall.Args)
		}
	}

	return model.TargetAllocation{}, fmt.Errorf("no %s call in decision response", _allocationTool)
}

func decodeAllocation(args map[string]any) (model.TargetAllocation, error) {
	raw, err := sonic.Marshal(args)
	if err != nil {
		return model.TargetAllocation{}, fmt.Errorf("%w: can't re-marshal decision args", err)
	}

	var target model.TargetAllocation
	if err := sonic.Unmarshal(raw, &target); err != nil {
		return model.TargetAllocation{}, fmt.Errorf("%w: can't decode decision args", err)
	}
	for i := range target.Entries {
		target.Entries[i].Symbol = strings.ToUpper(target.Entries[i].Symbol)
	}
	return target, nil
}

// ValidateAllocation enforces the decision-service contract: percents
// in range and summing to ~100, no position above the configured cap,
// and no symbol outside the universe.
func ValidateAllocation(target model.TargetAllocation, universe map[string]struct{}, maxPositionPct float64) error {
	if target.CashPercent < 0 {
		return fmt.Errorf("%w: negative cash percent %.1f", ErrInvalidAllocation, target.CashPercent)
	}
	for _, e := range target.Entries {
		if e.Percent < 0 {
			return fmt.Errorf("%w: negative percent for %s", ErrInvalidAllocation, e.Symbol)
		}
		if e.Percent > maxPositionPct*100 {
			return fmt.Errorf("%w: %s at %.1f%% exceeds position cap %.0f%%", ErrInvalidAllocation, e.Symbol, e.Percent, maxPositionPct*100)
		}
		if _, ok := universe[e.Symbol]; !ok {
			return fmt.Errorf("%w: %s is outside the universe", ErrInvalidAllocation, e.Symbol)
		}
	}
	if sum := target.Sum(); math.Abs(sum-100) > 1 {
		return fmt.Errorf("%w: percents sum to %.1f, want 100", ErrInvalidAllocation, sum)
	}
	return nil
}
