package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "expensio/pkg/domain-errors"
)

func TestParseUserID(t *testing.T) {
	t.Run("round-trips a fresh ID", func(t *testing.T) {
		want := NewUserID()
		got, err := ParseUserID(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	cases := []struct {
		name string
		in   string
	}{
		{"empty string", ""},
		{"not a uuid", "not-a-uuid"},
		{"nil uuid", "00000000-0000-0000-0000-000000000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseUserID(tc.in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestParseCompanyAndExpenseIDs(t *testing.T) {
	companyID := NewCompanyID()
	parsedCompany, err := ParseCompanyID(companyID.String())
	require.NoError(t, err)
	assert.Equal(t, companyID, parsedCompany)

	expenseID := NewExpenseID()
	parsedExpense, err := ParseExpenseID(expenseID.String())
	require.NoError(t, err)
	assert.Equal(t, expenseID, parsedExpense)

	_, err = ParseCompanyID("nope")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = ParseExpenseID("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestIsNil(t *testing.T) {
	var zero UserID
	assert.True(t, zero.IsNil())
	assert.False(t, NewUserID().IsNil())
}

func TestJSONRepresentation(t *testing.T) {
	id := NewExpenseID()

	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(raw))

	var decoded ExpenseID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded)

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &decoded))
}
