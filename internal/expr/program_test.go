package expr

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	env := map[string]any{
		"priority":      "urgent",
		"priority_rank": 4,
		"form_data": map[string]any{
			"amount":     750.0,
			"department": "finance",
			"days":       "3",
			"draft":      false,
			"tags":       []string{"travel", "q3"},
			"café":       "yes",
			"größe":      4,
		},
	}

	cases := []struct {
		name string
		src  string
		want bool
	}{
		{"string equality", `priority == "urgent"`, true},
		{"single quotes", `priority == 'low'`, false},
		{"numeric compare", `form_data.amount > 500`, true},
		{"rank compare", `priority_rank >= 3`, true},
		{"loose numeric string", `form_data.days == 3`, true},
		{"strict numeric string", `form_data.days === 3`, false},
		{"strict not equal", `form_data.days !== "3"`, false},
		{"in list", `form_data.department in ["finance", "hr"]`, true},
		{"not in list", `form_data.department not in ["finance"]`, false},
		{"in field list", `"q3" in form_data.tags`, true},
		{"keyword and", `priority == "urgent" and form_data.amount < 100`, false},
		{"symbol or", `priority == "low" || form_data.amount >= 750`, true},
		{"not", `not form_data.draft`, true},
		{"bang", `!(priority == "urgent")`, false},
		{"missing path is null", `form_data.missing == null`, true},
		{"missing nested path", `form_data.missing.deeper == null`, true},
		{"precedence", `priority == "low" or priority == "urgent" and form_data.amount > 1`, true},
		{"literal true", `true`, true},
		{"non-ascii field", `form_data.café == "yes"`, true},
		{"non-ascii numeric field", `form_data.größe > 2`, true},
		{"non-ascii literal", `form_data.department != "naïve"`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := Compile(tc.src)
			require.NoError(t, err)
			got, err := prog.Eval(context.Background(), env, Limits{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{
		``,
		`priority ==`,
		`(priority == "a"`,
		`priority == "unterminated`,
		`form_data. == 1`,
		`[1, 2`,
		`priority # 1`,
		`and == 1`,
		strings.Repeat("(", 200) + "true" + strings.Repeat(")", 200),
		"form_data.\xff == 1",
		"priority == \"ur\xc3gent\"",
	} {
		_, err := Compile(src)
		var syntaxErr *SyntaxError
		assert.True(t, errors.As(err, &syntaxErr), "source %q", src)
	}
}

func TestEvalTypeErrors(t *testing.T) {
	env := map[string]any{"priority": "high", "form_data": map[string]any{"n": 1}}
	for _, src := range []string{
		`priority`,
		`priority and true`,
		`not priority`,
		`priority < 3`,
		`priority in 5`,
	} {
		prog, err := Compile(src)
		require.NoError(t, err, src)
		_, err = prog.Eval(context.Background(), env, Limits{})
		assert.ErrorIs(t, err, ErrType, src)
	}
}

func TestEvalStepBudget(t *testing.T) {
	src := strings.TrimSuffix(strings.Repeat(`priority == "x" or `, 50), " or ")
	prog, err := Compile(src)
	require.NoError(t, err)

	_, err = prog.Eval(context.Background(), map[string]any{"priority": "y"}, Limits{MaxSteps: 20})
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	ok, err := prog.Eval(context.Background(), map[string]any{"priority": "y"}, Limits{MaxSteps: 1000})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalCancelledContext(t *testing.T) {
	prog, err := Compile(`true`)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = prog.Eval(ctx, nil, Limits{MaxSteps: 10, Timeout: time.Second})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestCompileInvalidUTF8Offset(t *testing.T) {
	_, err := Compile("form_data.\xff == 1")
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 10, syntaxErr.Pos)
}

func TestStringLiterals(t *testing.T) {
	prog, err := Compile(`form_data.kind == "overtime" and ("manager" in ["manager", 'admin'] or priority == "manager")`)
	require.NoError(t, err)
	assert.Equal(t, []string{"overtime", "manager", "admin"}, prog.StringLiterals())
}
