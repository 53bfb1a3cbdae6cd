package output_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/harvest/internal/output"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("write failed") }

func TestFormatError_NilError(t *testing.T) {
	t.Parallel()
	for _, format := range []output.Format{output.FormatJSON, output.FormatText} {
		var buf bytes.Buffer
		require.NoError(t, output.FormatError(&buf, nil, format))
		assert.Empty(t, buf.String())
	}
}

func TestFormatError_HarvestError_JSON(t *testing.T) {
	t.Parallel()
	err := harvesterr.WithDetails(harvesterr.ErrInvalidAmount, map[string]string{
		"amount": "-1",
		"asset":  "polkadot-NATIVE-DOT",
	})
	err = harvesterr.WithSuggestion(err, "Use a positive amount in planck")

	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, err, output.FormatJSON))

	var result output.ErrorOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, "INVALID_AMOUNT", result.Error.Code)
	assert.Equal(t, "-1", result.Error.Details["amount"])
	assert.Equal(t, "Use a positive amount in planck", result.Error.Suggestion)
	assert.Equal(t, harvesterr.ExitInput, result.Error.ExitCode)
	assert.Contains(t, buf.String(), "\n  \"error\"")
}

func TestFormatError_HarvestError_Text(t *testing.T) {
	t.Parallel()
	err := harvesterr.WithDetails(harvesterr.ErrInvalidAmount, map[string]string{"amount": "-1"})
	err = harvesterr.WithSuggestion(err, "Check the pool minimum with 'harvest pools'")

	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, err, output.FormatText))

	result := buf.String()
	assert.True(t, strings.HasPrefix(result, "Error: invalid amount format\n"))
	assert.Contains(t, result, "Details:\n  amount: -1\n")
	assert.Contains(t, result, "Suggestion: Check the pool minimum with 'harvest pools'")
}

func TestFormatError_GenericError(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	require.NoError(t, output.FormatError(&jsonBuf, assert.AnError, output.FormatJSON))

	var result output.ErrorOutput
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &result))
	assert.Equal(t, "GENERAL_ERROR", result.Error.Code)
	assert.Equal(t, harvesterr.ExitGeneral, result.Error.ExitCode)

	var textBuf bytes.Buffer
	require.NoError(t, output.FormatError(&textBuf, assert.AnError, output.FormatText))
	assert.Equal(t, "Error: "+assert.AnError.Error()+"\n", textBuf.String())
}

func TestFormatError_DetailsSorted_Text(t *testing.T) {
	t.Parallel()
	err := harvesterr.WithDetails(harvesterr.ErrInvalidInput, map[string]string{
		"slug":   "DOT___native_staking___polkadot",
		"amount": "0",
		"target": "validator",
		"chain":  "polkadot",
	})

	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, err, output.FormatText))

	result := buf.String()
	last := -1
	for _, key := range []string{"amount", "chain", "slug", "target"} {
		pos := strings.Index(result, "  "+key+":")
		require.NotEqual(t, -1, pos, key)
		assert.Greater(t, pos, last, key)
		last = pos
	}
}

func TestFormatError_WriterError(t *testing.T) {
	t.Parallel()
	require.Error(t, output.FormatError(failingWriter{}, harvesterr.ErrGeneral, output.FormatText))
	require.Error(t, output.FormatError(failingWriter{}, harvesterr.ErrGeneral, output.FormatJSON))
}

func TestFormatErrors(t *testing.T) {
	t.Parallel()
	list := []error{
		harvesterr.Tx(harvesterr.CodeNotEnoughMinStake, "Not enough min stake"),
		harvesterr.Tx(harvesterr.CodeInvalidParams, "Amount must be greater than 0"),
	}

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, list, output.FormatJSON))

		var result output.ErrorsOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
		require.Len(t, result.Errors, 2)
		assert.Equal(t, harvesterr.CodeNotEnoughMinStake, result.Errors[0].Code)
		assert.Equal(t, harvesterr.CodeInvalidParams, result.Errors[1].Code)
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, list, output.FormatText))
		assert.Equal(t, 2, strings.Count(buf.String(), "Error: "))
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, nil, output.FormatJSON))
		assert.Empty(t, buf.String())
	})
}

func TestFormatSuccess_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	require.NoError(t, output.FormatSuccess(&jsonBuf, "Config written", output.FormatJSON))
	var result map[string]string
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &result))
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, "Config written", result["message"])

	var textBuf bytes.Buffer
	require.NoError(t, output.FormatSuccess(&textBuf, "Config written", output.FormatText))
	assert.Equal(t, "Config written\n", textBuf.String())

	require.Error(t, output.FormatSuccess(failingWriter{}, "x", output.FormatText))
}

func TestStream_JSONLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := output.NewStream(output.FormatJSON, &buf)

	require.NoError(t, s.Emit("pool", "DOT___native_staking___polkadot", map[string]int{"apy": 14}, nil))
	require.NoError(t, s.Emit("pool", "KSM___native_staking___kusama", map[string]int{"apy": 17}, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev output.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "pool", ev.Event)
	assert.Equal(t, "KSM___native_staking___kusama", ev.Slug)
	assert.Equal(t, 2, s.Count())
}

func TestStream_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := output.NewStream(output.FormatText, &buf)

	require.NoError(t, s.Emit("position", "DOT___native_staking___polkadot", nil, func() string {
		return "DOT staked 100"
	}))
	assert.Equal(t, "DOT staked 100\n", buf.String())
}

func TestStream_Concurrent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := output.NewStream(output.FormatJSON, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Emit("reward", "slug", i, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.Count())
	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}
