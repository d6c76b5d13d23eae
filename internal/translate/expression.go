package translate

import (
	"fmt"
	"strconv"
	"strings"

	"energy-ingest/internal/models"
)

// TokenKind вид токена выражения
type TokenKind int

const (
	// TokenPath путь в текущем payload, например meter_0.energy
	TokenPath TokenKind = iota + 1
	// TokenLastValue lastValue__<path>, последнее значение цели за сегодня
	TokenLastValue
	// TokenChangeToday changeToday__<path>, изменение с первого значения за сегодня
	TokenChangeToday
	// TokenLiteral числовая константа
	TokenLiteral
	// TokenOperator арифметический оператор
	TokenOperator
)

// Operator оператор выражения
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
	// OpOr левый операнд, если он не ноль, иначе правый
	OpOr Operator = "or"
)

const (
	lastValuePrefix   = "lastValue__"
	changeTodayPrefix = "changeToday__"
)

// Token элемент выражения
type Token struct {
	Kind  TokenKind
	Path  string
	Value float64
	Op    Operator
}

// ExpressionError ошибка разбора или вычисления выражения
type ExpressionError struct {
	Equation string
	Position int
	Message  string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("equation %q at token %d: %s", e.Equation, e.Position, e.Message)
}

// Unwrap позволяет проверять errors.Is(err, models.ErrExpression)
func (e *ExpressionError) Unwrap() error {
	return models.ErrExpression
}

// Tokenize разбивает выражение по пробелам на токены закрытой грамматики
func Tokenize(equation string) ([]Token, error) {
	words := strings.Fields(equation)
	tokens := make([]Token, 0, len(words))

	for i, word := range words {
		switch {
		case strings.HasPrefix(word, lastValuePrefix):
			tokens = append(tokens, Token{Kind: TokenLastValue, Path: strings.TrimPrefix(word, lastValuePrefix)})
		case strings.HasPrefix(word, changeTodayPrefix):
			tokens = append(tokens, Token{Kind: TokenChangeToday, Path: strings.TrimPrefix(word, changeTodayPrefix)})
		case isOperator(word):
			tokens = append(tokens, Token{Kind: TokenOperator, Op: Operator(word)})
		default:
			if f, err := strconv.ParseFloat(word, 64); err == nil {
				if !isFinite(f) {
					return nil, &ExpressionError{Equation: equation, Position: i, Message: fmt.Sprintf("literal %q is not finite", word)}
				}
				tokens = append(tokens, Token{Kind: TokenLiteral, Value: f})
				continue
			}
			if strings.Contains(word, ".") {
				tokens = append(tokens, Token{Kind: TokenPath, Path: word})
				continue
			}
			return nil, &ExpressionError{Equation: equation, Position: i, Message: fmt.Sprintf("unknown token %q", word)}
		}
	}

	return tokens, nil
}

func isOperator(word string) bool {
	switch Operator(word) {
	case OpAdd, OpSub, OpMul, OpDiv, OpOr:
		return true
	}
	return false
}

// Evaluate вычисляет выражение слева направо без приоритетов операторов.
// Неразрешенные операнды дают 0, некорректная последовательность токенов - ошибку.
func Evaluate(equation, key string, payload map[string]any, tctx models.TranslationContext) (float64, error) {
	tokens, err := Tokenize(equation)
	if err != nil {
		return 0, err
	}
	return EvaluateTokens(equation, tokens, key, payload, tctx)
}

// EvaluateTokens вычисляет уже разобранное выражение
func EvaluateTokens(equation string, tokens []Token, key string, payload map[string]any, tctx models.TranslationContext) (float64, error) {
	if len(tokens) == 0 {
		return 0, &ExpressionError{Equation: equation, Message: "empty expression"}
	}

	var (
		acc           float64
		pending       Operator
		expectOperand = true
	)

	for i, tok := range tokens {
		if tok.Kind == TokenOperator {
			if expectOperand {
				return 0, &ExpressionError{Equation: equation, Position: i, Message: "operator without left operand"}
			}
			pending = tok.Op
			expectOperand = true
			continue
		}

		if !expectOperand {
			return 0, &ExpressionError{Equation: equation, Position: i, Message: "operand without operator"}
		}
		value := resolveOperand(tok, key, payload, tctx)
		expectOperand = false

		if i == 0 {
			acc = value
			continue
		}

		var err error
		acc, err = apply(acc, pending, value)
		if err != nil {
			return 0, &ExpressionError{Equation: equation, Position: i, Message: err.Error()}
		}
	}

	if expectOperand {
		return 0, &ExpressionError{Equation: equation, Position: len(tokens) - 1, Message: "dangling operator"}
	}
	if !isFinite(acc) {
		return 0, &ExpressionError{Equation: equation, Position: len(tokens) - 1, Message: "result is not finite"}
	}
	return acc, nil
}

func resolveOperand(tok Token, key string, payload map[string]any, tctx models.TranslationContext) float64 {
	switch tok.Kind {
	case TokenLiteral:
		return tok.Value
	case TokenPath:
		return currentValue(tok.Path, payload)
	case TokenLastValue:
		v, ok := ExtractRaw(tok.Path, tctx.LastToday[key], 1, 0)
		if !ok {
			return 0
		}
		f, _ := numericOperand(v)
		return f
	case TokenChangeToday:
		current := currentValue(tok.Path, payload)
		first, ok := firstTodayValue(tok.Path, key, tctx)
		if !ok {
			return current
		}
		return current - first
	}
	return 0
}

func currentValue(path string, payload map[string]any) float64 {
	v, ok := ExtractRaw(path, payload, 1, 0)
	if !ok {
		return 0
	}
	f, _ := numericOperand(v)
	return f
}

// firstTodayValue ищет базу сначала в снимке цели, потом в первом сыром payload дня
func firstTodayValue(path, key string, tctx models.TranslationContext) (float64, bool) {
	for _, snapshotKey := range []string{key, models.RawSnapshotKey} {
		v, ok := ExtractRaw(path, tctx.FirstToday[snapshotKey], 1, 0)
		if !ok {
			continue
		}
		if f, ok := numericOperand(v); ok {
			return f, true
		}
	}
	return 0, false
}

func apply(left float64, op Operator, right float64) (float64, error) {
	switch op {
	case OpAdd:
		return left + right, nil
	case OpSub:
		return left - right, nil
	case OpMul:
		return left * right, nil
	case OpDiv:
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case OpOr:
		if left != 0 {
			return left, nil
		}
		return right, nil
	}
	return 0, fmt.Errorf("unsupported operator %q", op)
}
