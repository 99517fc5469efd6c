package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

var baseDimensions = []string{
	"cpu_core_hours",
	"memory_byte_hours",
	"storage_allocated_byte_hours",
	"replica_hours",
}

func TestCompileAndEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		vars       map[string]float64
		expected   float64
	}{
		{
			name:       "pass through",
			expression: "cpu_core_hours",
			vars:       map[string]float64{"cpu_core_hours": 42},
			expected:   42,
		},
		{
			name:       "division",
			expression: "cpu_core_hours / 2",
			vars:       map[string]float64{"cpu_core_hours": 360},
			expected:   180,
		},
		{
			name:       "mixed arithmetic",
			expression: "cpu_core_hours * 2 + memory_byte_hours - replica_hours",
			vars:       map[string]float64{"cpu_core_hours": 10, "memory_byte_hours": 5, "replica_hours": 3},
			expected:   22,
		},
		{
			name:       "integer division",
			expression: "cpu_core_hours // 7",
			vars:       map[string]float64{"cpu_core_hours": 25},
			expected:   3,
		},
		{
			name:       "modulo",
			expression: "cpu_core_hours % 7",
			vars:       map[string]float64{"cpu_core_hours": 25},
			expected:   4,
		},
		{
			name:       "power",
			expression: "cpu_core_hours ** 2",
			vars:       map[string]float64{"cpu_core_hours": 12},
			expected:   144,
		},
		{
			name:       "power binds tighter than subtraction",
			expression: "0 - cpu_core_hours ** 2 + 200",
			vars:       map[string]float64{"cpu_core_hours": 10},
			expected:   100,
		},
		{
			name:       "parentheses",
			expression: "(cpu_core_hours + replica_hours) / 2",
			vars:       map[string]float64{"cpu_core_hours": 6, "replica_hours": 4},
			expected:   5,
		},
		{
			name:       "functions",
			expression: "max(min(cpu_core_hours, 100), round(replica_hours / 3), abs(0 - 1))",
			vars:       map[string]float64{"cpu_core_hours": 250, "replica_hours": 10},
			expected:   100,
		},
		{
			name:       "int truncates",
			expression: "int(cpu_core_hours / 4)",
			vars:       map[string]float64{"cpu_core_hours": 10},
			expected:   2,
		},
		{
			name:       "missing variables default to zero",
			expression: "cpu_core_hours + memory_byte_hours",
			vars:       map[string]float64{"cpu_core_hours": 7},
			expected:   7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(tt.expression, baseDimensions)
			require.NoError(t, err)

			result, err := compiled.Evaluate(tt.vars)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, result, 1e-9)
		})
	}
}

func TestCompileRejectsDisallowedExpressions(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"undeclared identifier", "pod_hours * 2"},
		{"dunder identifier", "__import__"},
		{"attribute access", "cpu_core_hours.real"},
		{"disallowed function", "exec(cpu_core_hours)"},
		{"string literal", `cpu_core_hours + "x"`},
		{"indexing", "cpu_core_hours[0]"},
		{"dangling operator", "cpu_core_hours +"},
		{"unbalanced parens", "(cpu_core_hours"},
		{"empty expression", ""},
		{"call on undeclared name", "system('ls')"},
		{"wrong arity", "abs(1, 2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expression, baseDimensions)
			require.Error(t, err)
			assert.True(t, ierr.IsFormula(err), "expected a formula error, got %v", err)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		vars       map[string]float64
	}{
		{"division by zero", "cpu_core_hours / replica_hours", map[string]float64{"cpu_core_hours": 1}},
		{"integer division by zero", "cpu_core_hours // replica_hours", map[string]float64{"cpu_core_hours": 1}},
		{"modulo by zero", "cpu_core_hours % replica_hours", map[string]float64{"cpu_core_hours": 1}},
		{"negative result", "cpu_core_hours - replica_hours", map[string]float64{"cpu_core_hours": 1, "replica_hours": 5}},
		{"non-finite result", "cpu_core_hours ** cpu_core_hours", map[string]float64{"cpu_core_hours": 1e300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(tt.expression, baseDimensions)
			require.NoError(t, err)

			_, err = compiled.Evaluate(tt.vars)
			require.Error(t, err)
			assert.True(t, ierr.IsFormula(err), "expected a formula error, got %v", err)
		})
	}
}

func TestEvaluateIsPure(t *testing.T) {
	compiled, err := Compile("cpu_core_hours * 2", baseDimensions)
	require.NoError(t, err)

	vars := map[string]float64{"cpu_core_hours": 21}
	for i := 0; i < 3; i++ {
		result, err := compiled.Evaluate(vars)
		require.NoError(t, err)
		assert.Equal(t, float64(42), result)
	}
	assert.Equal(t, map[string]float64{"cpu_core_hours": 21}, vars)
}
