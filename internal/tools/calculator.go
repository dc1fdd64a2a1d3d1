package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/ShayCichocki/relay/internal/llm"
)

var constants = map[string]interface{}{
	"pi":    math.Pi,
	"e":     math.E,
	"phi":   math.Phi,
	"sqrt2": math.Sqrt2,
	"ln2":   math.Ln2,
	"ln10":  math.Ln10,
}

var functions = map[string]govaluate.ExpressionFunction{
	"sqrt":  unary(math.Sqrt),
	"abs":   unary(math.Abs),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"round": unary(math.Round),
	"ln":    unary(math.Log),
	"log":   unary(math.Log10),
	"log2":  unary(math.Log2),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"exp":   unary(math.Exp),
	"pow": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("pow expects 2 arguments")
		}
		x, ok1 := args[0].(float64)
		y, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, errors.New("pow expects numeric arguments")
		}
		return math.Pow(x, y), nil
	},
}

func unary(fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", args[0])
		}
		return fn(x), nil
	}
}

var timesRe = regexp.MustCompile(`(\d)\s*[x×]\s*(\d)`)

// normalizeExpression rewrites notation people type into govaluate syntax.
func normalizeExpression(expr string) string {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimSuffix(expr, "=")
	expr = strings.ReplaceAll(expr, "÷", "/")
	expr = strings.ReplaceAll(expr, "^", "**")
	for timesRe.MatchString(expr) {
		expr = timesRe.ReplaceAllString(expr, "$1*$2")
	}
	return expr
}

// Calculator evaluates arithmetic expressions.
type Calculator struct{}

func (Calculator) Name() string { return "calculator" }

func (Calculator) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "calculator",
		Description: "Evaluate a mathematical expression such as '3*99.8' or 'sqrt(2)^2'. Supports + - * / % ** and common functions.",
		Parameters: map[string]any{
			"expr": map[string]any{
				"type":        "string",
				"description": "The expression to evaluate",
			},
		},
		Required: []string{"expr"},
	}
}

// Invoke evaluates args["expr"] (or args["expression"]).
func (Calculator) Invoke(_ context.Context, args map[string]any) (string, error) {
	expr, ok := stringArg(args, "expr", "expression")
	if !ok {
		return "", errors.New("missing argument \"expr\"")
	}
	return Evaluate(expr)
}

// Evaluate computes expr and formats the result.
func Evaluate(expr string) (string, error) {
	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(normalizeExpression(expr), functions)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", expr, err)
	}
	result, err := parsed.Evaluate(constants)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}
	switch v := result.(type) {
	case float64:
		return formatNumber(v)
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// formatNumber renders v with at most ten decimal places and no trailing
// zeros, hiding binary rounding noise (3*99.8 is 299.4, not 299.40000000000003).
func formatNumber(v float64) (string, error) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", errors.New("result is undefined (division by zero?)")
	}
	s := strconv.FormatFloat(v, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		s = "0"
	}
	return s, nil
}

// binaryOp is one of the two-operand helpers the math agent may call.
type binaryOp struct {
	name string
	verb string
	fn   func(a, b float64) (float64, error)
}

func (o binaryOp) Name() string { return o.name }

func (o binaryOp) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        o.name,
		Description: fmt.Sprintf("%s two numbers a and b.", o.verb),
		Parameters: map[string]any{
			"a": map[string]any{"type": "number", "description": "First operand"},
			"b": map[string]any{"type": "number", "description": "Second operand"},
		},
		Required: []string{"a", "b"},
	}
}

func (o binaryOp) Invoke(_ context.Context, args map[string]any) (string, error) {
	a, err := numberArg(args, "a")
	if err != nil {
		return "", err
	}
	b, err := numberArg(args, "b")
	if err != nil {
		return "", err
	}
	v, err := o.fn(a, b)
	if err != nil {
		return "", err
	}
	return formatNumber(v)
}

// Add returns the "add" tool.
func Add() Tool {
	return binaryOp{name: "add", verb: "Add", fn: func(a, b float64) (float64, error) { return a + b, nil }}
}

// Multiply returns the "multiply" tool.
func Multiply() Tool {
	return binaryOp{name: "multiply", verb: "Multiply", fn: func(a, b float64) (float64, error) { return a * b, nil }}
}

// Divide returns the "divide" tool.
func Divide() Tool {
	return binaryOp{name: "divide", verb: "Divide", fn: func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	}}
}
