package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testVersion = "20250101_120000"

// setup isolates the working directory and shrinks training through
// the environment.
func setup(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("FRAUDSCORE_TRAINING_SAMPLES", "600")
	t.Setenv("FRAUDSCORE_TRAINING_TREES", "20")
	t.Setenv("FRAUDSCORE_TRAINING_EPOCHS", "3")
	return filepath.Join(t.TempDir(), "model")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp(strings.NewReader(stdin), &stdout, &stderr)
	err := app.Run(context.Background(), append([]string{"fraudscore"}, args...))
	return stdout.String(), err
}

func train(t *testing.T, root string, args ...string) trainer.Summary {
	t.Helper()
	out, err := run(t, "", append([]string{"--models", root, "train"}, args...)...)
	require.NoError(t, err)

	var summary trainer.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	return summary
}

const normalInput = `{"amount":30,"hour_of_day":14,"time_since_last_tx":28,"recipient_frequency":0.2,"distance_to_recipient_km":5}`

func TestTrainCommand(t *testing.T) {
	root := setup(t)

	summary := train(t, root, "--version", testVersion)
	assert.Equal(t, testVersion, summary.Version)
	assert.True(t, summary.Current)
	require.Len(t, summary.Models, 2)
	for _, m := range summary.Models {
		assert.Equal(t, 600, m.NSamples)
		assert.Equal(t, testVersion, m.Version)
	}

	for _, name := range []string{
		"current.alias",
		"isolation_forest.scaler.json",
		"autoencoder.scaler.json",
		filepath.Join(testVersion, "isolation_forest.model.json"),
		filepath.Join(testVersion, "autoencoder.metadata.json"),
	} {
		assert.FileExists(t, filepath.Join(root, name))
	}

	t.Run("ExistingVersion", func(t *testing.T) {
		_, err := run(t, "", "--models", root, "train", "--version", testVersion)
		assert.ErrorIs(t, err, domain.ErrVersionExists)
	})

	t.Run("UnknownModelType", func(t *testing.T) {
		_, err := run(t, "", "--models", root, "train", "--model-type", "random_forest")
		assert.ErrorIs(t, err, domain.ErrUnknownModelType)
	})

	t.Run("NoPromote", func(t *testing.T) {
		s := train(t, root, "--version", "20250102_000000", "--model-type", "autoencoder", "--no-promote")
		assert.False(t, s.Current)
		require.Len(t, s.Models, 1)
		assert.Equal(t, domain.ModelAutoencoder, s.Models[0].ModelType)

		out, err := run(t, "", "--models", root, "models", "current")
		require.NoError(t, err)
		assert.Contains(t, out, testVersion)
	})
}

func TestScoreCommand(t *testing.T) {
	root := setup(t)
	train(t, root, "--version", testVersion)

	t.Run("BareTransaction", func(t *testing.T) {
		out, err := run(t, normalInput, "--models", root)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(out, "\n"), "expected one line of output")

		var res domain.ScoringResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.False(t, res.Failed())
		assert.GreaterOrEqual(t, res.FraudScore, 0)
		assert.LessOrEqual(t, res.FraudScore, 100)
		assert.Equal(t, res.FraudScore > domain.DecisionCutoff, res.IsFraud)
		assert.Equal(t, domain.ModelIsolationForest, res.ModelType)
		assert.Equal(t, testVersion, res.ModelVersion)
	})

	t.Run("WrappedRequest", func(t *testing.T) {
		in := `{"transaction":` + normalInput + `,"model_type":"autoencoder","model_version":"` + testVersion + `"}`
		out, err := run(t, in, "--models", root)
		require.NoError(t, err)

		var res domain.ScoringResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, domain.ModelAutoencoder, res.ModelType)
	})

	t.Run("MissingRequiredField", func(t *testing.T) {
		out, err := run(t, `{"hour_of_day":3}`, "--models", root)
		assert.ErrorIs(t, err, errScoreFailed)
		assert.Equal(t, `{"error":"Missing required field: amount"}`+"\n", out)
	})

	t.Run("NonFiniteExtraKey", func(t *testing.T) {
		in := strings.TrimSuffix(normalInput, "}") + `,"note":"NaN"}`
		out, err := run(t, in, "--models", root)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(out, "\n"), "expected one line of output")

		var res domain.ScoringResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.False(t, res.Failed())
		assert.NotContains(t, res.Transaction, "note")
	})

	t.Run("InvalidRequiredValue", func(t *testing.T) {
		out, err := run(t, `{"amount":"abc","hour_of_day":3}`, "--models", root)
		assert.ErrorIs(t, err, errScoreFailed)
		assert.Equal(t, `{"error":"Failed to process input: Invalid value for field: amount"}`+"\n", out)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		out, err := run(t, `{not json`, "--models", root)
		assert.ErrorIs(t, err, errScoreFailed)

		var body map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &body))
		assert.True(t, strings.HasPrefix(body["error"], "Failed to process input"), body["error"])
	})

	t.Run("UnknownModelType", func(t *testing.T) {
		in := `{"transaction":` + normalInput + `,"model_type":"random_forest"}`
		out, err := run(t, in, "--models", root)
		assert.ErrorIs(t, err, errScoreFailed)
		assert.Contains(t, out, `"error"`)
	})

	t.Run("EmptyRegistry", func(t *testing.T) {
		out, err := run(t, normalInput, "--models", filepath.Join(t.TempDir(), "empty"))
		assert.ErrorIs(t, err, errScoreFailed)
		assert.Contains(t, out, "failed to load isolation_forest model")
	})
}

func TestScoreAudit(t *testing.T) {
	root := setup(t)
	train(t, root, "--version", testVersion)

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("FRAUDSCORE_REPOSITORY_DRIVER", "sqlite")
	t.Setenv("FRAUDSCORE_REPOSITORY_SQLITE_PATH", dbPath)
	t.Setenv("FRAUDSCORE_SCORING_AUDIT", "true")

	_, err := run(t, normalInput, "--models", root)
	require.NoError(t, err)

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestModelsCommand(t *testing.T) {
	root := setup(t)
	train(t, root, "--version", testVersion)
	train(t, root, "--version", "20250102_000000", "--no-promote")

	t.Run("ListJSON", func(t *testing.T) {
		out, err := run(t, "", "--models", root, "models", "list")
		require.NoError(t, err)

		var versions []registry.VersionInfo
		require.NoError(t, json.Unmarshal([]byte(out), &versions))
		require.Len(t, versions, 2)
		assert.Equal(t, "20250102_000000", versions[0].Version)
		assert.False(t, versions[0].Current)
		assert.Equal(t, testVersion, versions[1].Version)
		assert.True(t, versions[1].Current)
	})

	t.Run("ListYAML", func(t *testing.T) {
		out, err := run(t, "", "--models", root, "models", "list", "--output", "yaml")
		require.NoError(t, err)

		var versions []registry.VersionInfo
		require.NoError(t, yaml.Unmarshal([]byte(out), &versions))
		require.Len(t, versions, 2)
		assert.Len(t, versions[1].Models, 2)
	})

	t.Run("UnsupportedOutput", func(t *testing.T) {
		_, err := run(t, "", "--models", root, "models", "list", "--output", "xml")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Promote", func(t *testing.T) {
		out, err := run(t, "", "--models", root, "models", "promote", "20250102_000000")
		require.NoError(t, err)
		assert.Contains(t, out, "20250102_000000")

		out, err = run(t, normalInput, "--models", root)
		require.NoError(t, err)
		var res domain.ScoringResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, "20250102_000000", res.ModelVersion)
	})

	t.Run("PromoteUnknown", func(t *testing.T) {
		_, err := run(t, "", "--models", root, "models", "promote", "20990101_000000")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("PromoteWithoutVersion", func(t *testing.T) {
		_, err := run(t, "", "--models", root, "models", "promote")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("CurrentNotSet", func(t *testing.T) {
		_, err := run(t, "", "--models", filepath.Join(t.TempDir(), "empty"), "models", "current")
		assert.ErrorIs(t, err, domain.ErrAliasNotSet)
	})
}

func TestServeCommand(t *testing.T) {
	root := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		app := newApp(strings.NewReader(""), &stdout, &stderr)
		done <- app.Run(ctx, []string{"fraudscore", "--models", root, "serve", "--host", "127.0.0.1", "--port", "0"})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestConfigErrors(t *testing.T) {
	setup(t)

	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "models", "list")
	assert.Error(t, err)

	t.Setenv("FRAUDSCORE_REGISTRY_ALIAS_STORE", "sql")
	_, err = run(t, "", "models", "list")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "expected ErrInvalidInput, got %v", err)
}

func TestPrintOutput(t *testing.T) {
	v := map[string]any{"version": testVersion, "current": true}

	var buf bytes.Buffer
	require.NoError(t, printOutput(&buf, formatYAML, v))
	assert.Contains(t, buf.String(), "current: true")
	assert.Contains(t, buf.String(), testVersion)

	buf.Reset()
	require.NoError(t, printOutput(&buf, formatJSON, v))
	assert.Contains(t, buf.String(), `"version": "`+testVersion+`"`)
}
