package rules

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/merlin/internal/domain"
)

// celEnv is the shared CEL environment for expression rules. Variables
// mirror the transaction fields plus the velocity context.
var celEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("user_id", cel.IntType),
		cel.Variable("country", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("velocity_score", cel.DoubleType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("cel environment: %v", err))
	}
	return env
}

// compileExpression compiles a CEL predicate at config-load time. The
// expression must return bool; anything else is rejected before the rule
// can ever run.
func compileExpression(expr string) (predicate, error) {
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build expression program: %w", err)
	}

	return func(tx *domain.Transaction, vctx VelocityContext) bool {
		metadata := tx.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		out, _, err := program.Eval(map[string]any{
			"amount":         tx.Amount,
			"currency":       tx.Currency,
			"merchant_id":    tx.MerchantID,
			"payment_method": tx.PaymentMethod,
			"user_id":        tx.UserID,
			"country":        tx.Country,
			"hour":           tx.Timestamp.UTC().Hour(),
			"velocity_count": vctx.Count,
			"velocity_score": vctx.Score,
			"metadata":       metadata,
		})
		if err != nil {
			// Evaluation errors degrade to not-triggered; the assessment
			// must never abort on a single bad rule.
			slog.Warn("expression rule evaluation failed",
				"tx_id", tx.TransactionID,
				"error", err,
			)
			return false
		}
		return out == types.True
	}, nil
}
