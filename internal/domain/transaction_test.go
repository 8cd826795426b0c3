package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTx = `{"amount":30,"hour_of_day":14,"time_since_last_tx":28,"recipient_frequency":0.2,"distance_to_recipient_km":5`

func TestTransactionUnmarshal(t *testing.T) {
	t.Run("LooseTypes", func(t *testing.T) {
		var tx Transaction
		require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.5","is_foreign_transaction":true,"merchant":"shop","tags":[1]}`), &tx))
		assert.Equal(t, Transaction{FeatureAmount: 12.5, FeatureIsForeignTransaction: 1}, tx)
	})

	t.Run("NonFiniteExtraKeysDropped", func(t *testing.T) {
		for _, v := range []string{"NaN", "Inf", "-Infinity", "+inf"} {
			var tx Transaction
			require.NoError(t, json.Unmarshal([]byte(sampleTx+`,"note":"`+v+`"}`), &tx), v)
			assert.NotContains(t, tx, "note", v)
			assert.NoError(t, tx.Validate())
		}
	})

	t.Run("NonFiniteRequiredRejected", func(t *testing.T) {
		var tx Transaction
		err := json.Unmarshal([]byte(`{"amount":"NaN","hour_of_day":3}`), &tx)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FeatureAmount, verr.Field)
		assert.True(t, verr.Invalid)
	})

	t.Run("NotAnObject", func(t *testing.T) {
		var tx Transaction
		assert.ErrorIs(t, json.Unmarshal([]byte(`null`), &tx), ErrInvalidInput)
	})
}

func TestParseScoreRequest(t *testing.T) {
	t.Run("ExtraNaNStillMarshals", func(t *testing.T) {
		req, err := ParseScoreRequest([]byte(sampleTx + `,"note":"NaN"}`))
		require.NoError(t, err)

		res := ScoringResult{Transaction: req.Transaction, FraudScore: 10, ModelType: req.ModelType}
		out, err := json.Marshal(res)
		require.NoError(t, err)
		assert.NotContains(t, string(out), "note")
	})

	t.Run("InvalidValueIsDistinct", func(t *testing.T) {
		for _, body := range []string{
			`{"amount":"abc","hour_of_day":3}`,
			`{"transaction":{"amount":"Infinity"}}`,
		} {
			_, err := ParseScoreRequest([]byte(body))
			require.Error(t, err, body)
			assert.Equal(t, "Invalid value for field: amount", err.Error(), body)
		}
	})

	t.Run("MissingStaysMissing", func(t *testing.T) {
		req, err := ParseScoreRequest([]byte(`{"hour_of_day":3}`))
		require.NoError(t, err)
		assert.EqualError(t, req.Transaction.Validate(), "Missing required field: amount")
	})

	t.Run("Defaults", func(t *testing.T) {
		req, err := ParseScoreRequest([]byte(sampleTx + `}`))
		require.NoError(t, err)
		assert.Equal(t, ModelIsolationForest, req.ModelType)
		assert.Equal(t, VersionLatest, req.ModelVersion)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		_, err := ParseScoreRequest([]byte(`{nope`))
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = ParseScoreRequest([]byte(`{"transaction":[1]}`))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}
